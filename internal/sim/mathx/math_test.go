package mathx

import "testing"

func TestHash3_Deterministic(t *testing.T) {
	a := Hash3(42, 1, -2, 3)
	if a != Hash3(42, 1, -2, 3) {
		t.Fatalf("hash must be deterministic")
	}
	if a == Hash3(43, 1, -2, 3) {
		t.Fatalf("seed should change the hash")
	}
}

func TestIntIn(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v := IntIn(Hash2(int64(i), i, -i), 4, 6)
		if v < 4 || v > 6 {
			t.Fatalf("IntIn out of range: %d", v)
		}
	}
	if IntIn(99, 3, 3) != 3 || IntIn(99, 5, 2) != 5 {
		t.Fatalf("degenerate ranges")
	}
}

func TestStepAndNextSeed(t *testing.T) {
	if Step(3, 1) != -1 || Step(1, 3) != 1 || Step(2, 2) != 1 {
		t.Fatalf("Step")
	}
	if NextSeed(1) == NextSeed(2) || NextSeed(1) == 1 {
		t.Fatalf("NextSeed")
	}
}
