package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	FloodFill FloodFill `yaml:"flood_fill"`
	Tree      Tree      `yaml:"tree"`
	Undo      Undo      `yaml:"undo"`
	Snapshot  Snapshot  `yaml:"snapshot"`
}

type FloodFill struct {
	// MaxDistance bounds a committed fill on x and z around the seed.
	MaxDistance int `yaml:"max_distance"`
	// PreviewMaxDistance applies while the anchor is only proposed.
	PreviewMaxDistance int `yaml:"preview_max_distance"`
	MaxDepth           int `yaml:"max_depth"`
}

type Tree struct {
	// Seed fixes the first tree's generator. 0 seeds from the clock.
	Seed            int64 `yaml:"seed"`
	TrunkMin        int   `yaml:"trunk_min"`
	TrunkMax        int   `yaml:"trunk_max"`
	CanopyRadiusMin int   `yaml:"canopy_radius_min"`
	CanopyRadiusMax int   `yaml:"canopy_radius_max"`
}

type Undo struct {
	Limit int `yaml:"limit"`
}

type Snapshot struct {
	EveryCommits int `yaml:"every_commits"`
	Keep         int `yaml:"keep"`
}

func Defaults() Tuning {
	return Tuning{
		FloodFill: FloodFill{MaxDistance: 64, PreviewMaxDistance: 32, MaxDepth: 8192},
		Tree:      Tree{TrunkMin: 4, TrunkMax: 6, CanopyRadiusMin: 2, CanopyRadiusMax: 3},
		Undo:      Undo{Limit: 256},
		Snapshot:  Snapshot{EveryCommits: 50, Keep: 20},
	}
}

// Load reads path over Defaults(), so omitted fields keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("editor.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("editor.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.FloodFill.MaxDistance <= 0 || t.FloodFill.PreviewMaxDistance <= 0:
		return fmt.Errorf("flood_fill distances must be positive")
	case t.FloodFill.MaxDepth <= 0:
		return fmt.Errorf("flood_fill.max_depth must be positive")
	case t.Tree.TrunkMin <= 0 || t.Tree.TrunkMax < t.Tree.TrunkMin:
		return fmt.Errorf("tree trunk range invalid: %d..%d", t.Tree.TrunkMin, t.Tree.TrunkMax)
	case t.Tree.CanopyRadiusMin <= 0 || t.Tree.CanopyRadiusMax < t.Tree.CanopyRadiusMin:
		return fmt.Errorf("tree canopy range invalid: %d..%d", t.Tree.CanopyRadiusMin, t.Tree.CanopyRadiusMax)
	case t.Undo.Limit < 0:
		return fmt.Errorf("undo.limit must not be negative")
	case t.Snapshot.EveryCommits < 0 || t.Snapshot.Keep < 0:
		return fmt.Errorf("snapshot cadence must not be negative")
	}
	return nil
}
