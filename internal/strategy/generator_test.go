package strategy

import (
	"testing"
)

func TestGeneratorReproducible(t *testing.T) {
	a, err := NewGenerator(1234, nil)
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	b, err := NewGenerator(1234, nil)
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}

	for i := 0; i < 50; i++ {
		specA := a.Draw()
		specB := b.Draw()
		if specA.Variant != specB.Variant {
			t.Fatalf("draw %d: variants differ: %s vs %s", i, specA.Variant, specB.Variant)
		}
		if len(specA.Params) != len(specB.Params) {
			t.Fatalf("draw %d: param counts differ", i)
		}
		for k, v := range specA.Params {
			if specB.Params[k] != v {
				t.Fatalf("draw %d: param %s differs: %f vs %f", i, k, v, specB.Params[k])
			}
		}
	}
}

func TestGeneratorSeedsDiffer(t *testing.T) {
	a, _ := NewGenerator(1, nil)
	b, _ := NewGenerator(2, nil)

	same := true
	for i := 0; i < 20; i++ {
		specA := a.Draw()
		specB := b.Draw()
		if specA.Variant != specB.Variant {
			same = false
			break
		}
		for k, v := range specA.Params {
			if specB.Params[k] != v {
				same = false
			}
		}
		if !same {
			break
		}
	}
	if same {
		t.Error("different seeds produced identical draw sequences")
	}
}

func TestGeneratorDrawsConstruct(t *testing.T) {
	g, err := NewGenerator(99, nil)
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	for i := 0; i < 200; i++ {
		spec := g.Draw()
		if _, err := New(spec); err != nil {
			t.Fatalf("draw %d (%s) failed to construct: %v", i, spec.Variant, err)
		}
	}
}

func TestGeneratorHonorsDistribution(t *testing.T) {
	g, err := NewGenerator(7, Distribution{
		{Variant: VariantMACrossover, Weight: 1},
	})
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		if spec := g.Draw(); spec.Variant != VariantMACrossover {
			t.Fatalf("draw %d: expected only ma_crossover, got %s", i, spec.Variant)
		}
	}
}

func TestGeneratorRejectsBadDistribution(t *testing.T) {
	if _, err := NewGenerator(1, Distribution{{Variant: VariantConsensus, Weight: -1}}); err == nil {
		t.Error("expected error for negative weight")
	}
	if _, err := NewGenerator(1, Distribution{{Variant: VariantConsensus, Weight: 0}}); err == nil {
		t.Error("expected error for zero total weight")
	}
}
