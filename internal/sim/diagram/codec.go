package diagram

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"voxeldiagram.app/internal/sim/catalogs"
)

// FileMagic opens every saved diagram. It is written as a length-prefixed
// byte string including the trailing NUL.
const FileMagic = "mcdiagram\x00"

const FileVersion uint32 = 0x0100

var (
	ErrBadMagic  = errors.New("diagram: not a diagram file")
	ErrVersion   = errors.New("diagram: unsupported file version")
	ErrTruncated = errors.New("diagram: truncated block record")
)

// Header is the fixed prefix of a saved diagram.
type Header struct {
	Version    uint32
	BlockCount int32
}

// Record is one stored block as written to disk. Orientation is not persisted.
type Record struct {
	X, Y, Z float32
	Type    catalogs.BlockType
}

const recordSize = 16

type loadOptions struct {
	allowVersionMismatch bool
}

type LoadOption func(*loadOptions)

// AllowVersionMismatch accepts files whose version differs from FileVersion.
func AllowVersionMismatch() LoadOption {
	return func(o *loadOptions) { o.allowVersionMismatch = true }
}

// Save writes every stored block, in Position.Less order, big-endian.
func (d *Diagram) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	blocks := d.Blocks()
	if err := writeHeader(bw, Header{Version: FileVersion, BlockCount: int32(len(blocks))}); err != nil {
		return err
	}
	var buf [recordSize]byte
	for _, inst := range blocks {
		c := inst.pos.Corner()
		putRecord(buf[:], Record{X: c.X, Y: c.Y, Z: c.Z, Type: inst.Type()})
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeHeader(w io.Writer, h Header) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(FileMagic)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, FileMagic); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(buf[:], h.Version)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(buf[:], uint32(h.BlockCount))
	_, err := w.Write(buf[:])
	return err
}

func putRecord(b []byte, r Record) {
	binary.BigEndian.PutUint32(b[0:4], math.Float32bits(r.X))
	binary.BigEndian.PutUint32(b[4:8], math.Float32bits(r.Y))
	binary.BigEndian.PutUint32(b[8:12], math.Float32bits(r.Z))
	binary.BigEndian.PutUint32(b[12:16], uint32(r.Type))
}

// ReadHeader consumes and checks the file prefix.
func ReadHeader(r io.Reader, opts ...LoadOption) (Header, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	n := binary.BigEndian.Uint32(buf[:])
	if n != uint32(len(FileMagic)) {
		return Header{}, ErrBadMagic
	}
	magic := make([]byte, n)
	if _, err := io.ReadFull(r, magic); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(magic) != FileMagic {
		return Header{}, ErrBadMagic
	}
	var h Header
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("%w: missing version", ErrTruncated)
	}
	h.Version = binary.BigEndian.Uint32(buf[:])
	if h.Version != FileVersion && !o.allowVersionMismatch {
		return h, fmt.Errorf("%w: 0x%04x", ErrVersion, h.Version)
	}
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("%w: missing block count", ErrTruncated)
	}
	h.BlockCount = int32(binary.BigEndian.Uint32(buf[:]))
	return h, nil
}

// ReadRecords reads records until a clean EOF. The header's count is advisory.
func ReadRecords(r io.Reader) ([]Record, error) {
	var out []Record
	var buf [recordSize]byte
	for {
		_, err := io.ReadFull(r, buf[:])
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: record %d", ErrTruncated, len(out))
		}
		out = append(out, Record{
			X:    math.Float32frombits(binary.BigEndian.Uint32(buf[0:4])),
			Y:    math.Float32frombits(binary.BigEndian.Uint32(buf[4:8])),
			Z:    math.Float32frombits(binary.BigEndian.Uint32(buf[8:12])),
			Type: catalogs.BlockType(int32(binary.BigEndian.Uint32(buf[12:16]))),
		})
	}
}

// LoadTransaction decodes a saved diagram into the transaction Load would
// commit: remove every stored block, then add every record. Nothing is
// changed on error.
func (d *Diagram) LoadTransaction(r io.Reader, opts ...LoadOption) (*Transaction, Header, error) {
	br := bufio.NewReader(r)
	h, err := ReadHeader(br, opts...)
	if err != nil {
		return nil, h, err
	}
	recs, err := ReadRecords(br)
	if err != nil {
		return nil, h, err
	}
	tx := d.ClearTransaction()
	for _, rec := range recs {
		tx.Add(d.instanceFor(rec))
	}
	return tx, h, nil
}

// Load replaces the whole diagram with the contents of r in one commit.
func (d *Diagram) Load(r io.Reader, opts ...LoadOption) (Header, error) {
	tx, h, err := d.LoadTransaction(r, opts...)
	if err != nil {
		return h, err
	}
	d.Commit(tx)
	return h, nil
}

func (d *Diagram) instanceFor(rec Record) Instance {
	p := PositionFromVec(Vec3{X: rec.X, Y: rec.Y, Z: rec.Z})
	if d.cat == nil {
		return Instance{pos: p}
	}
	proto := d.cat.Prototype(rec.Type)
	return NewInstance(proto, p, proto.DefaultOrientation())
}
