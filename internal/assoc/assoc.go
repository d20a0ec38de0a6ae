// Package assoc implements the data-association primitives the tracking
// core uses to route raw detections to filter instances: a greedy
// nearest-first matcher and an optimal bipartite assignment built on
// internal/scipy.LinearSumAssignment. Ball-candidate arbitration uses the
// optimal matcher since multiple ball blobs and multiple trackers can
// appear in the same frame and a greedy, order-dependent pick can starve
// the closer pairing.
package assoc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/fieldtrack/tracker/internal/scipy"
)

// GreedyMatch repeatedly picks the matrix's global minimum below
// threshold, pairs those indices, and invalidates their row/column so each
// row and column is used at most once. distanceMatrix is (rows ×
// cols) = (candidates × objects).
func GreedyMatch(distanceMatrix *mat.Dense, threshold float64) (rowIdx, colIdx []int) {
	rows, cols := distanceMatrix.Dims()
	if rows == 0 || cols == 0 {
		return nil, nil
	}

	work := mat.DenseCopyOf(distanceMatrix)
	invalid := threshold + 1.0

	for {
		minVal, minRow, minCol := matrixMin(work)
		if minVal >= threshold {
			break
		}
		rowIdx = append(rowIdx, minRow)
		colIdx = append(colIdx, minCol)
		for c := 0; c < cols; c++ {
			work.Set(minRow, c, invalid)
		}
		for r := 0; r < rows; r++ {
			work.Set(r, minCol, invalid)
		}
	}
	return rowIdx, colIdx
}

// OptimalMatch solves the assignment problem over distanceMatrix (rows ×
// cols) using the Hungarian algorithm, rejecting any pairing whose cost
// exceeds threshold. Used where greedy nearest-first could pick a locally
// good but globally suboptimal pairing, e.g. several ball candidates and
// several trackers competing for each other's rightful detection in one
// frame.
func OptimalMatch(distanceMatrix *mat.Dense, threshold float64) (rowIdx, colIdx []int, err error) {
	rows, cols := distanceMatrix.Dims()
	if rows == 0 || cols == 0 {
		return nil, nil, nil
	}

	cost := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		cost[r] = make([]float64, cols)
		for c := 0; c < cols; c++ {
			cost[r][c] = distanceMatrix.At(r, c)
		}
	}

	assignments, _, _ := scipy.LinearSumAssignment(cost, threshold)
	for _, a := range assignments {
		rowIdx = append(rowIdx, a.RowIdx)
		colIdx = append(colIdx, a.ColIdx)
	}
	return rowIdx, colIdx, nil
}

// ValidateDistanceMatrix rejects NaN entries early, before either matcher
// runs.
func ValidateDistanceMatrix(m *mat.Dense) error {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if math.IsNaN(m.At(i, j)) {
				return fmt.Errorf("assoc: distance matrix contains NaN at [%d,%d]", i, j)
			}
		}
	}
	return nil
}

func matrixMin(m *mat.Dense) (val float64, row, col int) {
	rows, cols := m.Dims()
	val = math.Inf(1)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := m.At(i, j); v < val {
				val, row, col = v, i, j
			}
		}
	}
	return val, row, col
}
