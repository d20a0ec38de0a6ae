// Copyright 2025 Nathan Michlo
// SPDX-License-Identifier: BSD-3-Clause
//
// This file implements the bounded linear least-squares solve used by the
// ball flight filter's chip reconstruction and bounce refit: a 3D
// trajectory fit, distinct from planar point tracking, built in the
// house style of this repository's other scipy ports (attribution header,
// one exported solver function, gonum-backed).
//
// Original source the fit style is ported from:
// https://github.com/scipy/scipy/blob/main/scipy/linalg/_decomp_qr.py
// Original Copyright (c) 2001-2002 Enthought, Inc. 2003-2024, SciPy Developers
// Original License: BSD-3-Clause

package lstsq

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Solve finds p minimizing ‖D·p − d‖ via QR factorization of D (column
// count ≤ row count). D is (rows × cols), d is (rows × 1); the result p is
// (cols × 1). Returns an error if D is rank-deficient (R has a
// near-singular diagonal), mirroring the discriminant/NaN rejection the
// flight filter's caller performs on the returned fit.
func Solve(D *mat.Dense, d *mat.VecDense) (*mat.VecDense, error) {
	rows, cols := D.Dims()
	if rows < cols {
		return nil, fmt.Errorf("lstsq: underdetermined system, %d rows < %d cols", rows, cols)
	}

	var qr mat.QR
	qr.Factorize(D)

	bCol := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		bCol.Set(i, 0, d.AtVec(i))
	}

	var pCol mat.Dense
	if err := qr.Solve(&pCol, false, bCol); err != nil {
		return nil, fmt.Errorf("lstsq: QR solve failed: %w", err)
	}

	p := mat.NewVecDense(cols, nil)
	for i := 0; i < cols; i++ {
		v := pCol.At(i, 0)
		if isNaNOrInf(v) {
			return nil, fmt.Errorf("lstsq: solution component %d is not finite", i)
		}
		p.SetVec(i, v)
	}

	return p, nil
}

// Residual returns the L1 residual ‖D·p − d‖₁, used by the flight filter to
// score a candidate reconstruction (residual divided by frame count).
func Residual(D *mat.Dense, p *mat.VecDense, d *mat.VecDense) float64 {
	rows, _ := D.Dims()
	var Dp mat.VecDense
	Dp.MulVec(D, p)

	sum := 0.0
	for i := 0; i < rows; i++ {
		diff := Dp.AtVec(i) - d.AtVec(i)
		if diff < 0 {
			diff = -diff
		}
		sum += diff
	}
	return sum
}

func isNaNOrInf(v float64) bool {
	return v != v || v > 1e308 || v < -1e308
}
