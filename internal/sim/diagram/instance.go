package diagram

import "voxeldiagram.app/internal/sim/catalogs"

// Instance is one concrete block: a prototype at a position with an
// orientation. Instances are values; edits replace them, never mutate them.
// The zero Instance is air at the origin.
type Instance struct {
	proto       *catalogs.Prototype
	pos         Position
	orientation *catalogs.Orientation
}

func NewInstance(proto *catalogs.Prototype, pos Position, orientation *catalogs.Orientation) Instance {
	return Instance{proto: proto, pos: pos, orientation: orientation}
}

func (i Instance) Prototype() *catalogs.Prototype     { return i.proto }
func (i Instance) Position() Position                 { return i.pos }
func (i Instance) Orientation() *catalogs.Orientation { return i.orientation }
func (i Instance) Type() catalogs.BlockType           { return i.proto.Type() }
func (i Instance) IsAir() bool                        { return i.proto.IsAir() }

// At returns the same block moved to p.
func (i Instance) At(p Position) Instance {
	i.pos = p
	return i
}

func (i Instance) String() string {
	return i.proto.Name() + "@" + i.pos.String()
}
