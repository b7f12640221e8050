package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"voxeldiagram.app/internal/persistence/snapshot"
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: diagramctl <command> [flags]

commands:
  info        header, counts and bounds of a diagram or snapshot
  counts      block counts by type
  level       blocks on one elevation
  copy-level  copy one elevation onto another and save
  convert     convert between the diagram format and snapshots
  draw        apply one tool gesture and save
  replay      rebuild a session from its snapshot and commit journal
  journal     print the commit journal as JSON lines
  db          query the commit index`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "info":
		err = infoCmd(args)
	case "counts":
		err = countsCmd(args)
	case "level":
		err = levelCmd(args)
	case "copy-level":
		err = copyLevelCmd(args)
	case "convert":
		err = convertCmd(args)
	case "draw":
		err = drawCmd(args)
	case "replay":
		err = replayCmd(args)
	case "journal":
		err = journalCmd(args)
	case "db":
		err = dbCmd(args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, os.Args[1]+":", err)
		os.Exit(1)
	}
}

// usageError exits with status 2 like a flag parse failure.
func usageError(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}

func isSnapshotPath(p string) bool { return strings.HasSuffix(p, ".snap.zst") }

// openDiagram reads a diagram file or a snapshot, chosen by extension. The
// snapshot header is returned for snapshots.
func openDiagram(cat *catalogs.Catalog, path string, lenient bool) (*diagram.Diagram, *snapshot.Header, error) {
	d := diagram.New(cat)
	if isSnapshotPath(path) {
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return nil, nil, err
		}
		if err := snap.Restore(d); err != nil {
			return nil, nil, err
		}
		return d, &snap.Header, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	var opts []diagram.LoadOption
	if lenient {
		opts = append(opts, diagram.AllowVersionMismatch())
	}
	if _, err := d.Load(f, opts...); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil, nil
}

// writeDiagram saves d as a diagram file, or as a snapshot when path ends in
// .snap.zst.
func writeDiagram(d *diagram.Diagram, path string, h snapshot.Header) error {
	if isSnapshotPath(path) {
		snap, err := snapshot.Capture(d, h)
		if err != nil {
			return err
		}
		return snapshot.WriteSnapshot(path, snap)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := d.Save(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func parsePos(s string) (diagram.Position, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return diagram.Position{}, fmt.Errorf("position %q: want x,y,z", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return diagram.Position{}, fmt.Errorf("position %q: %w", s, err)
		}
		v[i] = n
	}
	return diagram.Pos(v[0], v[1], v[2]), nil
}

type commonFlags struct {
	configDir *string
	in        *string
	lenient   *bool
}

func addCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configDir: fs.String("configs", "./configs", "config directory"),
		in:        fs.String("in", "", "diagram file or .snap.zst snapshot (required)"),
		lenient:   fs.Bool("allow_version_mismatch", false, "accept diagram files with another format version"),
	}
}

func (c commonFlags) open() (*catalogs.Catalog, *diagram.Diagram, *snapshot.Header, error) {
	if strings.TrimSpace(*c.in) == "" {
		usageError("missing -in")
	}
	cat, err := catalogs.Load(*c.configDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load catalog: %w", err)
	}
	d, h, err := openDiagram(cat, *c.in, *c.lenient)
	if err != nil {
		return nil, nil, nil, err
	}
	return cat, d, h, nil
}

func infoCmd(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	c := addCommon(fs)
	_ = fs.Parse(args)

	cat, d, h, err := c.open()
	if err != nil {
		return err
	}
	if h != nil {
		fmt.Printf("snapshot v%d session=%s seq=%d created=%s catalog=%s\n", h.Version, h.SessionID, h.Seq, h.CreatedAt, h.CatalogDigest)
		if h.CatalogDigest != "" && h.CatalogDigest != cat.Digest {
			fmt.Printf("warning: catalog digest differs from %s\n", cat.Digest)
		}
	} else {
		f, err := os.Open(*c.in)
		if err != nil {
			return err
		}
		defer f.Close()
		fh, err := diagram.ReadHeader(f, diagram.AllowVersionMismatch())
		if err != nil {
			return err
		}
		fmt.Printf("diagram version=0x%04x header_count=%d\n", fh.Version, fh.BlockCount)
	}
	fmt.Printf("blocks=%d types=%d levels=%v\n", d.BlockCount(), len(d.BlockCountsByType()), d.Levels())
	if lo, hi, ok := d.Bounds(); ok {
		fmt.Printf("bounds=%v..%v\n", lo, hi)
	}
	return nil
}

func countsCmd(args []string) error {
	fs := flag.NewFlagSet("counts", flag.ExitOnError)
	c := addCommon(fs)
	_ = fs.Parse(args)

	cat, d, _, err := c.open()
	if err != nil {
		return err
	}
	counts := d.BlockCountsByType()
	types := make([]catalogs.BlockType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})
	for _, t := range types {
		fmt.Printf("%6d  %-4d %s\n", counts[t], int32(t), cat.Prototype(t).Name())
	}
	return nil
}

func levelCmd(args []string) error {
	fs := flag.NewFlagSet("level", flag.ExitOnError)
	c := addCommon(fs)
	n := fs.Int("n", 0, "elevation")
	_ = fs.Parse(args)

	_, d, _, err := c.open()
	if err != nil {
		return err
	}
	level := d.Level(*n)
	blocks := make([]diagram.Instance, 0, len(level))
	for _, inst := range level {
		blocks = append(blocks, inst)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Position().Less(blocks[j].Position()) })
	for _, inst := range blocks {
		fmt.Println(inst)
	}
	fmt.Printf("level %d: %d blocks\n", *n, len(blocks))
	return nil
}

func copyLevelCmd(args []string) error {
	fs := flag.NewFlagSet("copy-level", flag.ExitOnError)
	c := addCommon(fs)
	src := fs.Int("src", 0, "source elevation")
	dst := fs.Int("dst", 1, "destination elevation")
	out := fs.String("out", "", "output path (default: overwrite -in)")
	_ = fs.Parse(args)

	_, d, h, err := c.open()
	if err != nil {
		return err
	}
	d.CopyLevel(*src, *dst)
	target := *out
	if target == "" {
		target = *c.in
	}
	if err := writeDiagram(d, target, headerFor(h, d)); err != nil {
		return err
	}
	fmt.Printf("copied level %d to %d: blocks=%d -> %s\n", *src, *dst, d.BlockCount(), target)
	return nil
}

func convertCmd(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	c := addCommon(fs)
	out := fs.String("out", "", "output path; .snap.zst writes a snapshot (required)")
	sessionID := fs.String("session", "", "session id for new snapshots")
	seq := fs.Uint64("seq", 0, "sequence number for new snapshots")
	_ = fs.Parse(args)

	if strings.TrimSpace(*out) == "" {
		usageError("missing -out")
	}
	cat, d, h, err := c.open()
	if err != nil {
		return err
	}
	hdr := headerFor(h, d)
	if *sessionID != "" {
		hdr.SessionID = *sessionID
	}
	if *seq != 0 {
		hdr.Seq = *seq
	}
	if hdr.CatalogDigest == "" {
		hdr.CatalogDigest = cat.Digest
	}
	if err := writeDiagram(d, *out, hdr); err != nil {
		return err
	}
	fmt.Printf("wrote %s: blocks=%d\n", *out, d.BlockCount())
	return nil
}

// headerFor carries an input snapshot's identity over to the output.
func headerFor(h *snapshot.Header, d *diagram.Diagram) snapshot.Header {
	if h != nil {
		return snapshot.Header{SessionID: h.SessionID, Seq: h.Seq, CatalogDigest: h.CatalogDigest}
	}
	return snapshot.Header{CatalogDigest: d.Catalog().Digest}
}
