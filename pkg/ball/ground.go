// Package ball implements the ball-tracking subsystem: the ground filter
// (rolling/sliding), the flight filter (chip reconstruction), the
// collision/dribble filter, and the arbitration across candidate trackers.
// The ground filter wraps internal/filterpy.KalmanFilter behind domain
// methods, specialized to the ball's 6-state model with a rolling-friction
// control input; the collision filter builds on the ground filter, and the
// flight filter fits its trajectories with internal/lstsq instead.
package ball

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/fieldtrack/tracker/internal/filterpy"
	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/pkg/config"
)

const gravity = 9.81

// GroundFilter is the 6-state Kalman filter on ball position/velocity with
// a rolling-friction model. State: [x,y,z,vx,vy,vz]. Observation: [x,y].
type GroundFilter struct {
	kf         *filterpy.KalmanFilter
	model      config.BallModel
	lastUpdate int64 // ns, monotonic
	obsStdDev  float64
}

// NewGroundFilter creates a ground filter seeded from a single detection at
// time t (ns). Velocity starts at zero and P starts at identity.
func NewGroundFilter(model config.BallModel, x, y float64, t int64) *GroundFilter {
	g := &GroundFilter{
		kf:        filterpy.NewKalmanFilter(6, 2),
		model:     model,
		obsStdDev: 0.003,
	}
	g.reset(x, y, t)
	return g
}

func (g *GroundFilter) reset(x, y float64, t int64) {
	state := mat.NewDense(6, 1, []float64{x, y, 0, 0, 0, 0})
	g.kf.SetX(state)
	p := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		p.Set(i, i, 1.0)
	}
	g.kf.SetP(p)
	g.lastUpdate = t
}

// Reset installs a new position from a single detection, zeroing velocity
// and resetting P to the identity.
func (g *GroundFilter) Reset(x, y float64, t int64) { g.reset(x, y, t) }

// SetSpeed pokes velocity without touching position, used after a dribble
// release.
func (g *GroundFilter) SetSpeed(vx, vy float64) {
	x := g.kf.GetX()
	x.Set(3, 0, vx)
	x.Set(4, 0, vy)
}

// InjectSpeed overwrites the committed velocity directly, the canonical
// ModifyState use-case: recovering true outgoing velocity after a volley
// without averaging it with the incoming value. Must run after Reset so
// the overwrite isn't itself clobbered by Reset's own zeroing.
func (g *GroundFilter) InjectSpeed(vx, vy float64) {
	g.kf.ModifyState(3, vx)
	g.kf.ModifyState(4, vy)
}

// SetObservationStdDev sets the measurement noise standard deviation,
// raised from the default 0.003m to 0.02m when the ball is judged close to
// a robot shadow.
func (g *GroundFilter) SetObservationStdDev(s float64) { g.obsStdDev = s }

// State returns the current [x,y,z,vx,vy,vz] state vector.
func (g *GroundFilter) State() (pos geom.Vec3, vel geom.Vec3) {
	x := g.kf.GetX()
	return geom.Vec3{X: x.At(0, 0), Y: x.At(1, 0), Z: x.At(2, 0)},
		geom.Vec3{X: x.At(3, 0), Y: x.At(4, 0), Z: x.At(5, 0)}
}

// Covariance returns the current state covariance matrix.
func (g *GroundFilter) Covariance() *mat.Dense { return g.kf.GetP() }

// LastUpdate returns the last time this filter was updated with a vision
// detection.
func (g *GroundFilter) LastUpdate() int64 { return g.lastUpdate }

// Predict advances the filter by dt seconds, applying the rolling-friction
// or flight control model. If persistent, the predicted state/covariance
// are committed.
func (g *GroundFilter) Predict(dt float64, persistent bool) {
	if dt < 0 {
		dt = 0
	}
	g.configureTransition(dt)
	g.kf.Predict(persistent)
}

// configureTransition rebuilds F, Q, and u for elapsed dt.
func (g *GroundFilter) configureTransition(dt float64) {
	x := g.kf.GetX()
	vx, vy, vz, z := x.At(3, 0), x.At(4, 0), x.At(5, 0), x.At(2, 0)

	F := g.kf.F
	zero6x6(F)
	for i := 0; i < 6; i++ {
		F.Set(i, i, 1.0)
	}
	F.Set(0, 3, dt)
	F.Set(1, 4, dt)
	F.Set(2, 5, dt)
	g.kf.B.Copy(F)

	u := g.kf.U
	zero6x1(u)

	v := math.Hypot(vx, vy)
	phi := math.Atan2(vy, vx)
	slow := g.model.SlowDeceleration * dt

	switch {
	case v < slow:
		// Stop linearly; null height/vz.
		u.Set(3, 0, -vx)
		u.Set(4, 0, -vy)
		u.Set(5, 0, -vz)
		if z != 0 {
			u.Set(2, 0, -z)
		}
	case z < 0.1:
		// Rolling: decelerate along the heading.
		decel := geom.FromPolar(slow, phi+math.Pi)
		u.Set(3, 0, decel.X)
		u.Set(4, 0, decel.Y)
	default:
		// Flying: gravity.
		u.Set(5, 0, -gravity*dt)
		u.Set(2, 0, -gravity*dt*dt/2)
	}

	sigma := 4.0
	Q := g.kf.Q
	zero6x6(Q)
	for axis := 0; axis < 3; axis++ {
		gPos := dt * dt / 2 * sigma
		gVel := dt * sigma
		posIdx, velIdx := axis, axis+3
		Q.Set(posIdx, posIdx, gPos*gPos)
		Q.Set(posIdx, velIdx, gPos*gVel)
		Q.Set(velIdx, posIdx, gPos*gVel)
		Q.Set(velIdx, velIdx, gVel*gVel)
	}

	H := g.kf.H
	zero2x6(H)
	H.Set(0, 0, 1.0)
	H.Set(1, 1, 1.0)

	R := g.kf.R
	R.Set(0, 0, g.obsStdDev*g.obsStdDev)
	R.Set(1, 1, g.obsStdDev*g.obsStdDev)
}

// Update fuses a planar position measurement at time t.
func (g *GroundFilter) Update(x, y float64, t int64) error {
	z := mat.NewDense(2, 1, []float64{x, y})
	if err := g.kf.Update(z, nil, nil); err != nil {
		return err
	}
	g.lastUpdate = t
	return nil
}

func zero6x6(m *mat.Dense) {
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			m.Set(i, j, 0)
		}
	}
}

func zero6x1(m *mat.Dense) {
	for i := 0; i < 6; i++ {
		m.Set(i, 0, 0)
	}
}

func zero2x6(m *mat.Dense) {
	for i := 0; i < 2; i++ {
		for j := 0; j < 6; j++ {
			m.Set(i, j, 0)
		}
	}
}
