package catalogs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not find repo root from %s", dir)
		}
		dir = parent
	}
}

func TestLoad_RepoBlocks(t *testing.T) {
	c, err := Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() == 0 {
		t.Fatalf("expected block definitions")
	}
	if c.Digest == "" {
		t.Fatalf("expected digest")
	}
	log := c.Prototype(0x11)
	if log.Name() != "Oak Log" {
		t.Fatalf("0x11: got %q", log.Name())
	}
	if got := log.DefaultOrientation().Name(); got != "vertical" {
		t.Fatalf("default orientation: got %q want vertical", got)
	}
	if !log.HasOrientation(c.Orientations().Get("east-west")) {
		t.Fatalf("expected east-west to be valid for logs")
	}
	stone := c.Prototype(1)
	if stone.DefaultOrientation() != c.Orientations().None() {
		t.Fatalf("stone should default to the none orientation")
	}
}

func TestCatalog_PrototypeFallback(t *testing.T) {
	c, err := New([]BlockDef{{ID: 3, Name: "Dirt"}, {ID: 1, Name: "Stone"}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Prototype(9999); got != c.Fallback() || got.Type() != 1 {
		t.Fatalf("unknown id: got type %d want fallback 1", got.Type())
	}
	if _, ok := c.Lookup(9999); ok {
		t.Fatalf("Lookup should not fall back")
	}
	if air := c.Prototype(TypeAir); !air.IsAir() || air != c.Air() {
		t.Fatalf("air mismatch")
	}
	if p, ok := c.ByName(" dirt "); !ok || p.Type() != 3 {
		t.Fatalf("ByName dirt: %v %v", p, ok)
	}
}

func TestCatalog_FallbackPrefersZero(t *testing.T) {
	c, err := New([]BlockDef{{ID: 5, Name: "Planks"}, {ID: 0, Name: "Placeholder"}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Fallback().Type() != 0 {
		t.Fatalf("fallback: got %d want 0", c.Fallback().Type())
	}
}

func TestCatalog_RejectsDuplicates(t *testing.T) {
	_, err := New([]BlockDef{{ID: 1, Name: "A"}, {ID: 1, Name: "B"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestParse_SchemaViolations(t *testing.T) {
	cases := map[string]string{
		"not an array":     `{"id":1,"name":"x"}`,
		"missing name":     `[{"id":1}]`,
		"negative id":      `[{"id":-4,"name":"x"}]`,
		"unknown property": `[{"id":1,"name":"x","texture":"stone.png"}]`,
		"empty":            `[]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw), nil); err == nil {
				t.Fatalf("expected schema error")
			}
		})
	}
}

func TestOrientationRegistry_Interning(t *testing.T) {
	r := NewOrientationRegistry()
	a := r.Get("north")
	b := r.Get("north")
	if a != b {
		t.Fatalf("expected the same handle for equal names")
	}
	if r.Get("south") == a {
		t.Fatalf("distinct names must yield distinct handles")
	}
	if r.Get("") != r.None() {
		t.Fatalf("empty name should map to None")
	}
	if _, ok := r.Lookup("east"); ok {
		t.Fatalf("Lookup must not intern")
	}
	if got := r.Names(); len(got) != 2 || got[0] != "north" || got[1] != "south" {
		t.Fatalf("Names: %v", got)
	}
}

func TestPrototype_TransparencyAndCategories(t *testing.T) {
	c, err := New([]BlockDef{
		{ID: 20, Name: "Glass", Categories: []string{"Building"}, Transparent: true},
		{ID: 53, Name: "Oak Stairs", Categories: []string{"Building", "Wood"}},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !c.Prototype(20).IsTransparent() || c.Prototype(53).IsTransparent() || !c.Air().IsTransparent() {
		t.Fatalf("transparency: glass=%v stairs=%v air=%v",
			c.Prototype(20).IsTransparent(), c.Prototype(53).IsTransparent(), c.Air().IsTransparent())
	}

	cats := c.Prototype(53).Categories()
	if strings.Join(cats, ",") != "Building,Wood" {
		t.Fatalf("categories: %v", cats)
	}
	cats[0] = "Changed"
	if c.Prototype(53).Categories()[0] != "Building" {
		t.Fatalf("Categories must return a copy")
	}
	if got := c.Air().Categories(); len(got) != 0 {
		t.Fatalf("air categories: %v", got)
	}
}
