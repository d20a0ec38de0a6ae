package assoc

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestGreedyMatch_PairsClosestFirst(t *testing.T) {
	d := mat.NewDense(2, 2, []float64{
		0.1, 5.0,
		5.0, 0.2,
	})
	rows, cols := GreedyMatch(d, 1.0)
	if len(rows) != 2 || len(cols) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(rows))
	}
}

func TestGreedyMatch_RespectsThreshold(t *testing.T) {
	d := mat.NewDense(1, 1, []float64{2.0})
	rows, _ := GreedyMatch(d, 1.0)
	if len(rows) != 0 {
		t.Fatalf("expected no match above threshold, got %d", len(rows))
	}
}

func TestOptimalMatch_AvoidsGreedyTrap(t *testing.T) {
	// Greedy would take the global minimum (0,0)=1 and then be forced into
	// (1,1)=100, total 101; optimal picks (0,1)=2 + (1,0)=2 = 4, so the
	// global minimum is NOT part of the optimal assignment.
	d := mat.NewDense(2, 2, []float64{
		1, 2,
		2, 100,
	})
	rows, cols, err := OptimalMatch(d, 1000.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 || len(cols) != 2 {
		t.Fatalf("expected full assignment, got %d pairs", len(rows))
	}
	for k := range rows {
		if rows[k] == cols[k] {
			t.Errorf("expected the off-diagonal assignment, got pair (%d,%d)", rows[k], cols[k])
		}
	}
}

func TestValidateDistanceMatrix_RejectsNaN(t *testing.T) {
	d := mat.NewDense(1, 1, []float64{math.NaN()})
	if err := ValidateDistanceMatrix(d); err == nil {
		t.Fatalf("expected error for NaN matrix")
	}
}
