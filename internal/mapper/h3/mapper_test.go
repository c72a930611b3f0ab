package h3mapper

import (
	"math"
	"testing"
)

func TestCellForPoint_StableWithinCell(t *testing.T) {
	m, err := New(9)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a, err := m.CellForPoint(-28.1723, 153.55022)
	if err != nil {
		t.Fatalf("CellForPoint: %v", err)
	}
	b, err := m.CellForPoint(-28.17231, 153.55021)
	if err != nil {
		t.Fatalf("CellForPoint: %v", err)
	}
	if a != b {
		t.Fatalf("nearby points landed in different cells: %s vs %s", a, b)
	}

	far, _ := m.CellForPoint(59.3293, 18.0686)
	if far == a {
		t.Fatalf("distant point shares cell %s", a)
	}
}

func TestCenterOf_RoundTrip(t *testing.T) {
	m, _ := New(8)
	cell, err := m.CellForPoint(-28.1723, 153.55022)
	if err != nil {
		t.Fatalf("CellForPoint: %v", err)
	}
	lat, lng, err := m.CenterOf(cell)
	if err != nil {
		t.Fatalf("CenterOf: %v", err)
	}
	if math.Abs(lat+28.1723) > 0.05 || math.Abs(lng-153.55022) > 0.05 {
		t.Fatalf("centre (%v,%v) far from query point", lat, lng)
	}
	again, _ := m.CellForPoint(lat, lng)
	if again != cell {
		t.Fatalf("centre maps to %s, want %s", again, cell)
	}
}

func TestInvalidInput(t *testing.T) {
	if _, err := New(16); err == nil {
		t.Fatalf("expected error for res 16")
	}
	m, _ := New(5)
	if _, err := m.CellForPoint(95, 0); err == nil {
		t.Fatalf("expected error for lat 95")
	}
	if _, _, err := m.CenterOf("not-a-cell"); err == nil {
		t.Fatalf("expected error for bad cell")
	}
}

func TestNeighbors_RingAroundCell(t *testing.T) {
	m, err := New(9)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cell, err := m.CellForPoint(-28.1723, 153.55022)
	if err != nil {
		t.Fatalf("CellForPoint: %v", err)
	}

	got, err := m.Neighbors(cell, 1)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("len=%d want 7 (hexagon plus ring)", len(got))
	}
	found := false
	for _, c := range got {
		if c == cell {
			found = true
		}
	}
	if !found {
		t.Fatalf("origin %s missing from %v", cell, got)
	}

	if only, err := m.Neighbors(cell, 0); err != nil || len(only) != 1 || only[0] != cell {
		t.Fatalf("k=0: got %v, %v", only, err)
	}
	if _, err := m.Neighbors("not-a-cell", 1); err == nil {
		t.Fatalf("expected error for bad cell")
	}
	if _, err := m.Neighbors(cell, -1); err == nil {
		t.Fatalf("expected error for negative k")
	}
}
