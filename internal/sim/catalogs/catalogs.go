package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BlockType is a block id. The low 16 bits are the base id, the next 4 bits
// carry block data and the following 4 bits carry editor-only data.
type BlockType int32

const (
	// TypeAir is empty space. It never appears in blocks.json.
	TypeAir BlockType = -1
	// TypeUnknown marks "no block selected".
	TypeUnknown BlockType = -2
)

func (t BlockType) BaseID() int32 { return int32(t) & 0xFFFF }

//go:embed blocks.schema.json
var blocksSchemaJSON string

type BlockDef struct {
	ID           int32    `json:"id"`
	Name         string   `json:"name"`
	Categories   []string `json:"categories,omitempty"`
	Orientations []string `json:"validOrientations,omitempty"`
	Transparent  bool     `json:"isTransparent,omitempty"`
}

// Prototype is the shared, non-positional data of one block type.
type Prototype struct {
	typ          BlockType
	name         string
	categories   []string
	transparent  bool
	orientations []*Orientation
	none         *Orientation
}

func (p *Prototype) Type() BlockType {
	if p == nil {
		return TypeAir
	}
	return p.typ
}

func (p *Prototype) Name() string {
	if p == nil {
		return "Air"
	}
	return p.name
}

func (p *Prototype) IsAir() bool { return p == nil || p.typ == TypeAir }

func (p *Prototype) IsTransparent() bool { return p.IsAir() || p.transparent }

func (p *Prototype) Categories() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.categories...)
}

// DefaultOrientation is the first valid orientation, or None for blocks that
// cannot be rotated.
func (p *Prototype) DefaultOrientation() *Orientation {
	if p == nil {
		return nil
	}
	if len(p.orientations) > 0 {
		return p.orientations[0]
	}
	return p.none
}

func (p *Prototype) Orientations() []*Orientation {
	if p == nil {
		return nil
	}
	return append([]*Orientation(nil), p.orientations...)
}

func (p *Prototype) HasOrientation(o *Orientation) bool {
	if p == nil {
		return false
	}
	if len(p.orientations) == 0 {
		return o == p.none
	}
	for _, v := range p.orientations {
		if v == o {
			return true
		}
	}
	return false
}

// Catalog maps block ids to prototypes. It is built once at startup and
// shared by reference; it is read-only after construction.
type Catalog struct {
	protos       map[BlockType]*Prototype
	byName       map[string]*Prototype
	types        []BlockType
	air          *Prototype
	fallback     *Prototype
	orientations *OrientationRegistry

	Digest string
}

// New builds a catalog from defs. The fallback prototype used for unknown ids
// is id 0 when defined, otherwise the lowest id.
func New(defs []BlockDef, reg *OrientationRegistry) (*Catalog, error) {
	if reg == nil {
		reg = NewOrientationRegistry()
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("catalog: no block definitions")
	}
	c := &Catalog{
		protos:       make(map[BlockType]*Prototype, len(defs)),
		byName:       make(map[string]*Prototype, len(defs)),
		orientations: reg,
		air: &Prototype{
			typ:  TypeAir,
			name: "Air",
			none: reg.None(),
		},
	}
	for _, d := range defs {
		t := BlockType(d.ID)
		if t < 0 {
			return nil, fmt.Errorf("catalog: negative block id %d", d.ID)
		}
		if _, dup := c.protos[t]; dup {
			return nil, fmt.Errorf("catalog: duplicate block id %d", d.ID)
		}
		p := &Prototype{
			typ:         t,
			name:        d.Name,
			categories:  append([]string(nil), d.Categories...),
			transparent: d.Transparent,
			none:        reg.None(),
		}
		for _, name := range d.Orientations {
			p.orientations = append(p.orientations, reg.Get(name))
		}
		c.protos[t] = p
		if d.Name != "" {
			c.byName[strings.ToLower(d.Name)] = p
		}
		c.types = append(c.types, t)
	}
	sort.Slice(c.types, func(i, j int) bool { return c.types[i] < c.types[j] })
	if p, ok := c.protos[0]; ok {
		c.fallback = p
	} else {
		c.fallback = c.protos[c.types[0]]
	}
	return c, nil
}

// Load reads <configDir>/blocks.json.
func Load(configDir string) (*Catalog, error) {
	raw, err := os.ReadFile(filepath.Join(configDir, "blocks.json"))
	if err != nil {
		return nil, err
	}
	return Parse(raw, NewOrientationRegistry())
}

// Parse validates raw against the blocks schema and builds a catalog.
func Parse(raw []byte, reg *OrientationRegistry) (*Catalog, error) {
	if err := validateBlocks(raw); err != nil {
		return nil, err
	}
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	c, err := New(defs, reg)
	if err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	c.Digest = sha256Hex(raw)
	return c, nil
}

func validateBlocks(raw []byte) error {
	schema, err := jsonschema.CompileString("blocks.schema.json", blocksSchemaJSON)
	if err != nil {
		return fmt.Errorf("compile blocks schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	return nil
}

// Prototype resolves t. Air resolves to the air prototype; ids that are not
// in the catalog resolve to the fallback prototype.
func (c *Catalog) Prototype(t BlockType) *Prototype {
	if t == TypeAir {
		return c.air
	}
	if p, ok := c.protos[t]; ok {
		return p
	}
	return c.fallback
}

// Lookup resolves t without falling back.
func (c *Catalog) Lookup(t BlockType) (*Prototype, bool) {
	if t == TypeAir {
		return c.air, true
	}
	p, ok := c.protos[t]
	return p, ok
}

func (c *Catalog) ByName(name string) (*Prototype, bool) {
	p, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

func (c *Catalog) Air() *Prototype { return c.air }

func (c *Catalog) Fallback() *Prototype { return c.fallback }

func (c *Catalog) Orientations() *OrientationRegistry { return c.orientations }

// Types lists every defined id in ascending order.
func (c *Catalog) Types() []BlockType {
	return append([]BlockType(nil), c.types...)
}

func (c *Catalog) Len() int { return len(c.types) }

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
