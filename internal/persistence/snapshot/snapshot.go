package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxeldiagram.app/internal/sim/diagram"
)

const Version = 1

type Header struct {
	Version       int    `json:"version"`
	SessionID     string `json:"session_id"`
	Seq           uint64 `json:"seq"`
	BlockCount    int    `json:"block_count"`
	Levels        int    `json:"levels"`
	CatalogDigest string `json:"catalog_digest,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// SnapshotV1 is a header plus the diagram in its binary file format.
type SnapshotV1 struct {
	Header  Header
	Diagram []byte
}

// Capture serializes d. Header fields describing d are filled in.
func Capture(d *diagram.Diagram, h Header) (SnapshotV1, error) {
	var buf bytes.Buffer
	if err := d.Save(&buf); err != nil {
		return SnapshotV1{}, err
	}
	h.Version = Version
	h.BlockCount = d.BlockCount()
	h.Levels = len(d.Levels())
	if h.CreatedAt == "" {
		h.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return SnapshotV1{Header: h, Diagram: buf.Bytes()}, nil
}

// Restore replaces d's contents with the snapshot in one commit.
func (s SnapshotV1) Restore(d *diagram.Diagram) error {
	_, err := d.Load(bytes.NewReader(s.Diagram))
	return err
}

// Encode writes a zstd stream: one JSON header line, then the diagram bytes.
func Encode(w io.Writer, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(snap.Diagram); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Decode(r io.Reader) (SnapshotV1, error) {
	var snap SnapshotV1
	dec, err := zstd.NewReader(r)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("snapshot header: %w", err)
	}
	if err := json.Unmarshal(line, &snap.Header); err != nil {
		return snap, fmt.Errorf("snapshot header: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d not supported", snap.Header.Version)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return snap, fmt.Errorf("snapshot body: %w", err)
	}
	snap.Diagram = body
	return snap, nil
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Encode(f, snap); err != nil {
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

func ReadSnapshot(path string) (SnapshotV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotV1{}, err
	}
	defer f.Close()
	return Decode(f)
}

// FileName is the canonical snapshot name for seq, zero padded so names sort
// in commit order.
func FileName(seq uint64) string {
	return fmt.Sprintf("%012d.snap.zst", seq)
}

// Prune keeps the newest keep snapshots in dir and removes the rest. It
// returns the removed paths.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) <= keep {
		return nil, nil
	}
	sort.Strings(names)
	var removed []string
	for _, name := range names[:len(names)-keep] {
		p := filepath.Join(dir, name)
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}

// Latest returns the newest snapshot path in dir, or "" when there is none.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	latest := ""
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		if e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", nil
	}
	return filepath.Join(dir, latest), nil
}
