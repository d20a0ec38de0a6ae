// Copyright 2025 Nathan Michlo
// SPDX-License-Identifier: MIT
//
// This file contains a Go port of filterpy.kalman.KalmanFilter
// Original source: https://github.com/rlabbe/filterpy/blob/master/filterpy/kalman/kalman_filter.py
//
// Original Copyright (c) 2015 Roger R. Labbe Jr.
// Original License: MIT
//
// See LICENSE file in this directory and THIRD_PARTY_LICENSES.md in repository root.

// Package filterpy implements the generic, explicit-control Kalman filter
// primitive shared by the tracking core's Kalman filters: the ball ground
// filter and the robot past/future filters configure one of these per tick
// rather than each hand rolling predict/update math. The flight filter's
// trajectory fit does not use it; that goes through internal/lstsq.
package filterpy

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// KalmanFilter implements a linear, discrete Kalman filter with an explicit
// control input, parameterized by state dimension N and observation
// dimension M. Callers reconfigure F, B, Q, H, R, and u on every Predict
// since elapsed time and control commands change every tick; there is no
// hidden per-call dt.
type KalmanFilter struct {
	dimX int        // N: state dimension
	dimZ int         // M: observation dimension
	x    *mat.Dense // state vector (dimX, 1)
	P    *mat.Dense // state covariance (dimX, dimX)
	F    *mat.Dense // state transition matrix (dimX, dimX)
	B    *mat.Dense // covariance transition matrix (dimX, dimX); usually equals F
	Q    *mat.Dense // process noise covariance (dimX, dimX)
	H    *mat.Dense // measurement matrix (dimZ, dimX)
	R    *mat.Dense // measurement noise covariance (dimZ, dimZ)
	U    *mat.Dense // control vector, added directly to the predicted state (dimX, 1)

	xPrior *mat.Dense // xₚᵣₑ, populated by the most recent Predict
	pPrior *mat.Dense // Pₚᵣₑ, populated by the most recent Predict
}

// NewKalmanFilter creates a Kalman filter with F, B, H identity and
// Q, R, P, U zero. Callers must configure every matrix before the first
// Predict/Update; the zero values are deliberately not a usable default
// since ball and robot filters rebuild F/B/Q/u from elapsed time each tick.
func NewKalmanFilter(dimX, dimZ int) *KalmanFilter {
	kf := &KalmanFilter{
		dimX:   dimX,
		dimZ:   dimZ,
		x:      mat.NewDense(dimX, 1, nil),
		P:      mat.NewDense(dimX, dimX, nil),
		F:      mat.NewDense(dimX, dimX, nil),
		B:      mat.NewDense(dimX, dimX, nil),
		Q:      mat.NewDense(dimX, dimX, nil),
		H:      mat.NewDense(dimZ, dimX, nil),
		R:      mat.NewDense(dimZ, dimZ, nil),
		U:      mat.NewDense(dimX, 1, nil),
		xPrior: mat.NewDense(dimX, 1, nil),
		pPrior: mat.NewDense(dimX, dimX, nil),
	}
	for i := 0; i < dimX; i++ {
		kf.F.Set(i, i, 1.0)
		kf.B.Set(i, i, 1.0)
	}
	for i := 0; i < dimZ; i++ {
		kf.H.Set(i, i, 1.0)
	}
	return kf
}

// Predict computes xₚᵣₑ = F·x + u and Pₚᵣₑ = B·P·Bᵀ + Q. When persistent is
// true the prior is committed into x and P immediately (the common case);
// when false only xPrior/pPrior are refreshed, leaving x/P untouched so a
// caller can peek at a prediction (e.g. the robot filter's "future" copy,
// or a volley look-ahead) without disturbing the filter's committed state.
func (kf *KalmanFilter) Predict(persistent bool) {
	kf.xPrior.Mul(kf.F, kf.x)
	kf.xPrior.Add(kf.xPrior, kf.U)

	var bp mat.Dense
	bp.Mul(kf.B, kf.P)
	kf.pPrior.Mul(&bp, kf.B.T())
	kf.pPrior.Add(kf.pPrior, kf.Q)

	if persistent {
		kf.x.Copy(kf.xPrior)
		kf.P.Copy(kf.pPrior)
	}
}

// Update incorporates measurement z using the filter's H/R unless
// overridden. y = z − H·xₚᵣₑ; S = H·Pₚᵣₑ·Hᵀ + R; K = Pₚᵣₑ·Hᵀ·S⁻¹;
// x = xₚᵣₑ + K·y; P = (I − K·H)·Pₚᵣₑ.
//
// Update reads from xPrior/pPrior rather than x/P, so it must follow a
// Predict call in the same tick (persistent or not); this mirrors the
// source's two-phase predict-then-correct structure instead of silently
// re-deriving a prior from the last committed state.
func (kf *KalmanFilter) Update(z, R, H *mat.Dense) error {
	rMatrix := kf.R
	if R != nil {
		rMatrix = R
	}
	hMatrix := kf.H
	if H != nil {
		hMatrix = H
	}

	var hx mat.Dense
	hx.Mul(hMatrix, kf.xPrior)
	var y mat.Dense
	y.Sub(z, &hx)

	var hp mat.Dense
	hp.Mul(hMatrix, kf.pPrior)
	var s mat.Dense
	s.Mul(&hp, hMatrix.T())
	s.Add(&s, rMatrix)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("filterpy: innovation covariance is singular: %w", err)
	}

	var pht mat.Dense
	pht.Mul(kf.pPrior, hMatrix.T())
	var k mat.Dense
	k.Mul(&pht, &sInv)

	var ky mat.Dense
	ky.Mul(&k, &y)
	kf.x.Add(kf.xPrior, &ky)

	identity := identityLike(kf.dimX)
	var kh mat.Dense
	kh.Mul(&k, hMatrix)
	var iMinusKH mat.Dense
	iMinusKH.Sub(identity, &kh)
	kf.P.Mul(&iMinusKH, kf.pPrior)

	return nil
}

// ModifyState pokes the committed state x[i] directly, bypassing
// predict/update. Used sparingly: the ball ground filter injects a
// post-collision speed this way so a volley's outgoing velocity isn't
// blended with the incoming one. Writing x rather than xPrior matters:
// xPrior is recomputed from scratch on the very next Predict, which would
// silently discard anything poked there before it was ever read back.
func (kf *KalmanFilter) ModifyState(i int, v float64) {
	kf.x.Set(i, 0, v)
}

// GetX returns the committed state vector.
func (kf *KalmanFilter) GetX() *mat.Dense { return kf.x }

// GetXPrior returns the predicted (not yet committed) state vector.
func (kf *KalmanFilter) GetXPrior() *mat.Dense { return kf.xPrior }

// GetP returns the committed state covariance.
func (kf *KalmanFilter) GetP() *mat.Dense { return kf.P }

// SetX overwrites the committed state vector (used by filter resets).
func (kf *KalmanFilter) SetX(x *mat.Dense) { kf.x.Copy(x) }

// SetP overwrites the committed state covariance (used by filter resets).
func (kf *KalmanFilter) SetP(p *mat.Dense) { kf.P.Copy(p) }

// GetDimX returns the state dimension N.
func (kf *KalmanFilter) GetDimX() int { return kf.dimX }

// GetDimZ returns the observation dimension M.
func (kf *KalmanFilter) GetDimZ() int { return kf.dimZ }

func identityLike(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1.0)
	}
	return m
}

// IsSymmetricPSD reports whether P is symmetric to within tolerance and has
// a non-negative diagonal, which must hold at every tick boundary for the
// filter's covariance to remain meaningful.
func (kf *KalmanFilter) IsSymmetricPSD(tolerance float64) bool {
	n, _ := kf.P.Dims()
	for i := 0; i < n; i++ {
		if kf.P.At(i, i) < -tolerance {
			return false
		}
		for j := i + 1; j < n; j++ {
			if diff := kf.P.At(i, j) - kf.P.At(j, i); diff > tolerance || diff < -tolerance {
				return false
			}
		}
	}
	return true
}
