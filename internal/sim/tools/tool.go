// Package tools turns anchor gestures into diagram transactions.
//
// A tool collects anchor positions through Propose and AcceptLast, then Draw
// rasterizes its shape against an Oracle into a Transaction. Tools never touch
// a Diagram directly.
package tools

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/mathx"
	"voxeldiagram.app/internal/sim/tuning"
)

var (
	// ErrIncomplete is returned by Draw while the tool still wants anchors.
	ErrIncomplete = errors.New("tools: not enough anchors")
	// ErrOffPlane is returned by Draw when a planar tool's anchors are on
	// different elevations.
	ErrOffPlane = errors.New("tools: anchors are not on the same level")
)

type Kind int

const (
	KindPencil Kind = iota
	KindEraser
	KindLine
	KindRectangle
	KindFilledRectangle
	KindCircle
	KindSphere
	KindFloodFill
	KindTree
)

var kindNames = [...]string{
	KindPencil:          "pencil",
	KindEraser:          "eraser",
	KindLine:            "line",
	KindRectangle:       "rectangle",
	KindFilledRectangle: "filled_rectangle",
	KindCircle:          "circle",
	KindSphere:          "sphere",
	KindFloodFill:       "flood_fill",
	KindTree:            "tree",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tool %q", s)
}

type State int

const (
	StateInitial State = iota
	StateProposed
	StateBrushDrag
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateProposed:
		return "proposed"
	case StateBrushDrag:
		return "brush_drag"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Tool interface {
	Kind() Kind
	ActionName() string
	WantsMorePositions() bool
	IsBrush() bool
	Anchors() []diagram.Position
	State() State

	Propose(p diagram.Position)
	AcceptLast()
	Clear()

	// Draw writes the tool's edit into tx, reading current blocks from
	// oracle. On error tx is left untouched.
	Draw(proto *catalogs.Prototype, o *catalogs.Orientation, oracle diagram.Oracle, tx *diagram.Transaction) error

	base() *gesture
}

// Env carries what some tools need beyond their anchors.
type Env struct {
	Catalog   *catalogs.Catalog
	FloodFill tuning.FloodFill
	Tree      tuning.Tree
	// Now seeds trees when Tree.Seed is 0. Defaults to time.Now.
	Now func() time.Time
}

func EnvFromTuning(cat *catalogs.Catalog, t tuning.Tuning) Env {
	return Env{Catalog: cat, FloodFill: t.FloodFill, Tree: t.Tree}
}

func New(kind Kind, env Env) (Tool, error) {
	def := tuning.Defaults()
	if env.FloodFill == (tuning.FloodFill{}) {
		env.FloodFill = def.FloodFill
	}
	if env.Tree == (tuning.Tree{}) {
		env.Tree = def.Tree
	}
	switch kind {
	case KindPencil:
		return &Pencil{gesture: gesture{need: 1, brush: true}}, nil
	case KindEraser:
		return &Eraser{gesture: gesture{need: 1, brush: true}}, nil
	case KindLine:
		return &Line{gesture: gesture{need: 2}}, nil
	case KindRectangle:
		return &Rectangle{gesture: gesture{need: 2}}, nil
	case KindFilledRectangle:
		return &Rectangle{gesture: gesture{need: 2}, filled: true}, nil
	case KindCircle:
		return &Circle{gesture: gesture{need: 2}}, nil
	case KindSphere:
		return &Sphere{gesture: gesture{need: 2}}, nil
	case KindFloodFill:
		return &FloodFill{gesture: gesture{need: 1}, limits: env.FloodFill}, nil
	case KindTree:
		return newTree(env), nil
	default:
		return nil, fmt.Errorf("unknown tool kind %d", int(kind))
	}
}

// CopyAnchors gives dst the anchors of src and resets dst to Initial, so a
// half-finished gesture survives switching tools.
func CopyAnchors(dst, src Tool) {
	g := dst.base()
	g.anchors = append(g.anchors[:0], src.Anchors()...)
	g.state = StateInitial
}

// gesture is the anchor list and state machine every tool shares.
type gesture struct {
	anchors []diagram.Position
	state   State
	need    int
	brush   bool
}

func (g *gesture) base() *gesture { return g }

func (g *gesture) Anchors() []diagram.Position {
	return append([]diagram.Position(nil), g.anchors...)
}

func (g *gesture) State() State { return g.state }

func (g *gesture) IsBrush() bool { return g.brush }

func (g *gesture) WantsMorePositions() bool { return len(g.anchors) < g.need }

func (g *gesture) Propose(p diagram.Position) {
	switch g.state {
	case StateInitial:
		g.anchors = append(g.anchors, p)
		g.state = StateProposed
	case StateProposed:
		g.anchors[len(g.anchors)-1] = p
	case StateBrushDrag:
		g.anchors = append(g.anchors, p)
	}
}

func (g *gesture) AcceptLast() {
	if g.brush && !g.WantsMorePositions() {
		g.state = StateBrushDrag
		return
	}
	g.state = StateInitial
}

func (g *gesture) Clear() {
	g.anchors = g.anchors[:0]
	g.state = StateInitial
}

// pair returns the first two anchors, which must share an elevation.
func (g *gesture) pair() (a, b diagram.Position, err error) {
	if g.WantsMorePositions() {
		return a, b, ErrIncomplete
	}
	a, b = g.anchors[0], g.anchors[1]
	if a.Y != b.Y {
		return a, b, ErrOffPlane
	}
	return a, b, nil
}

// box normalizes two same-level anchors to min/max corners.
func box(a, b diagram.Position) (lo, hi diagram.Position) {
	lo = diagram.Pos(mathx.MinInt(a.X, b.X), a.Y, mathx.MinInt(a.Z, b.Z))
	hi = diagram.Pos(mathx.MaxInt(a.X, b.X), a.Y, mathx.MaxInt(a.Z, b.Z))
	return lo, hi
}

// place replaces whatever oracle reports at p with a new block.
func place(tx *diagram.Transaction, oracle diagram.Oracle, proto *catalogs.Prototype, o *catalogs.Orientation, p diagram.Position) {
	_ = tx.Replace(oracle.BlockAt(p), diagram.NewInstance(proto, p, o))
}
