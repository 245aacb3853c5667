package data

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	bars := GenerateWalk(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour, 100, 100, 42)
	if err := store.Save("BTC/USDT", bars); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 100 {
		t.Fatalf("expected 100 bars, got %d", len(loaded))
	}
	for i := range loaded {
		if !loaded[i].Close.Equal(bars[i].Close) {
			t.Fatalf("bar %d close mismatch: %s vs %s", i, loaded[i].Close, bars[i].Close)
		}
	}
}

func TestStoreUnknownSymbol(t *testing.T) {
	store, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := store.Load(context.Background(), "NO/DATA"); err == nil {
		t.Error("expected error for unknown symbol")
	}
}

func TestStoreMetadataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := store.Generate("ETH/USDT", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour, 50, 2000, 7); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	reopened, err := NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	symbols := reopened.Symbols()
	if len(symbols) != 1 || symbols[0] != "ETH/USDT" {
		t.Fatalf("expected [ETH/USDT], got %v", symbols)
	}
	start, end, err := reopened.Range("ETH/USDT")
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if !end.After(start) {
		t.Error("range end should follow start")
	}
}

func TestGenerateWalkDeterministic(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := GenerateWalk(start, time.Hour, 200, 100, 9)
	b := GenerateWalk(start, time.Hour, 200, 100, 9)

	for i := range a {
		if !a[i].Close.Equal(b[i].Close) {
			t.Fatalf("bar %d differs for equal seeds", i)
		}
	}

	c := GenerateWalk(start, time.Hour, 200, 100, 10)
	same := true
	for i := range a {
		if !a[i].Close.Equal(c[i].Close) {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical series")
	}
}

func TestReplaySourceExhausts(t *testing.T) {
	bars := GenerateWalk(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour, 3, 100, 1)
	source := NewReplaySource(bars)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		bar, err := source.PollLatest(ctx, "BTC/USDT")
		if err != nil {
			t.Fatalf("poll %d failed: %v", i, err)
		}
		if !bar.Close.Equal(bars[i].Close) {
			t.Errorf("poll %d returned wrong bar", i)
		}
	}
	if _, err := source.PollLatest(ctx, "BTC/USDT"); err != ErrSourceExhausted {
		t.Errorf("expected ErrSourceExhausted, got %v", err)
	}

	source.Reset()
	if _, err := source.PollLatest(ctx, "BTC/USDT"); err != nil {
		t.Errorf("poll after reset failed: %v", err)
	}
}
