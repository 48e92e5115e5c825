package arena

import "testing"

func TestNewRejectsUnalignedPool(t *testing.T) {
	if _, err := New(GrowthChunkBytes+1, false); err == nil {
		t.Fatal("expected an error for a non-page-aligned pool size")
	}
}

func TestNewRejectsUndersizedPool(t *testing.T) {
	if _, err := New(0, false); err == nil {
		t.Fatal("expected an error for a pool smaller than one growth chunk")
	}
}

func TestOwnsAndCarve(t *testing.T) {
	a, err := New(GrowthChunkBytes*4, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base := a.Base()
	if !a.Owns(base) {
		t.Fatal("an arena should own its own base address")
	}
	if a.Owns(base - 1) {
		t.Fatal("an arena must not own addresses before its base")
	}

	first, err := a.Carve(1)
	if err != nil {
		t.Fatalf("Carve: %v", err)
	}
	if first != base {
		t.Fatalf("first carve = %#x, want base %#x", first, base)
	}

	second, err := a.Carve(1)
	if err != nil {
		t.Fatalf("Carve: %v", err)
	}
	if second != base+UnitBytes {
		t.Fatalf("second carve = %#x, want %#x", second, base+UnitBytes)
	}
	if a.Bump() != 2 {
		t.Fatalf("Bump() = %d, want 2", a.Bump())
	}
}

func TestCarveGrowsAcrossChunkBoundary(t *testing.T) {
	a, err := New(GrowthChunkBytes*4, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	unitsPerChunk := uint64(GrowthChunkBytes / UnitBytes)

	if _, err := a.Carve(unitsPerChunk); err != nil {
		t.Fatalf("Carve: %v", err)
	}
	if a.mappedUpto != unitsPerChunk {
		t.Fatalf("mappedUpto = %d, want %d", a.mappedUpto, unitsPerChunk)
	}

	// This carve crosses into unmapped territory and must trigger growth.
	if _, err := a.Carve(1); err != nil {
		t.Fatalf("Carve across boundary: %v", err)
	}
	if a.mappedUpto <= unitsPerChunk {
		t.Fatalf("expected mappedUpto to grow past %d, got %d", unitsPerChunk, a.mappedUpto)
	}
}

func TestCarveExhaustion(t *testing.T) {
	a, err := New(GrowthChunkBytes, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	total := uint64(GrowthChunkBytes / UnitBytes)
	if _, err := a.Carve(total + 1); err == nil {
		t.Fatal("expected an out-of-memory error carving more units than the pool holds")
	}
}
