package diagram

// Oracle answers "what is at this position". BlockAt is total: when nothing
// is stored it returns an air instance whose position equals p.
type Oracle interface {
	BlockAt(p Position) Instance
}

type Mode int

const (
	// ModePhysical ignores any preview overlay.
	ModePhysical Mode = iota
	// ModePhysicalOrEphemeral lets preview additions and removals shadow the
	// stored blocks.
	ModePhysicalOrEphemeral
)
