package robot

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/fieldtrack/tracker/internal/filterpy"
	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/pkg/config"
)

const maxOmega = 10 * 2 * math.Pi

// RobotFilter is a single candidate robot filter for one (team,id), holding
// past (latest vision) and future (predicted to the requested output time)
// Kalman copies. State: [x,y,phi,vx,vy,omega]. Observation: [x,y,phi].
type RobotFilter struct {
	past   *filterpy.KalmanFilter
	future *filterpy.KalmanFilter

	cameraID      int32
	primaryCamera int32

	frameCount                   int
	framesSinceLastPrimaryFrame  int
	lastVisionAt                 int64
	initTime                     int64

	lastCommand  Command
	hasCommand   bool

	lastCameraSwitch int64
}

// NewRobotFilter seeds a filter from a single accepted vision frame.
func NewRobotFilter(x, y, phi float64, t int64, cameraID int32) *RobotFilter {
	kf := filterpy.NewKalmanFilter(6, 3)
	kf.SetX(mat.NewDense(6, 1, []float64{x, y, phi, 0, 0, 0}))
	p := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		p.Set(i, i, 1.0)
	}
	kf.SetP(p)

	return &RobotFilter{
		past:          kf,
		future:        filterpy.NewKalmanFilter(6, 3),
		cameraID:      cameraID,
		primaryCamera: cameraID,
		frameCount:    1,
		lastVisionAt:  t,
		initTime:      t,
	}
}

// FrameCount returns the number of accepted vision frames. The filter with
// the most observed frames wins at read-out.
func (f *RobotFilter) FrameCount() int { return f.frameCount }

// LastVisionAt returns the time of the last accepted vision frame.
func (f *RobotFilter) LastVisionAt() int64 { return f.lastVisionAt }

// Position returns the committed (past) position, used for identity
// discipline distance checks.
func (f *RobotFilter) Position() geom.Vec2 {
	x := f.past.GetX()
	return geom.Vec2{X: x.At(0, 0), Y: x.At(1, 0)}
}

// Orientation returns the committed (past) orientation.
func (f *RobotFilter) Orientation() float64 { return f.past.GetX().At(2, 0) }

// DribblerActive reports whether the last actuator command requested the
// dribbler on, used by the ball subsystem's dribble-binding heuristics.
func (f *RobotFilter) DribblerActive() bool { return f.hasCommand && f.lastCommand.Dribbler > 0 }

// LastCommand returns the most recent actuator command and whether one has
// ever been applied.
func (f *RobotFilter) LastCommand() (Command, bool) { return f.lastCommand, f.hasCommand }

// ApplyCommand records the latest actuator command; it is consumed on the
// next Predict/PredictTo call. The control input is reconstructed from the
// last radio command within commandTime+2*tick.
func (f *RobotFilter) ApplyCommand(cmd Command) {
	f.lastCommand = cmd
	f.hasCommand = true
}

// ApplyVisionFrame predicts the past copy to t then fuses a position+
// orientation measurement. On each new vision frame, future is reset from
// past on the next PredictTo call.
func (f *RobotFilter) ApplyVisionFrame(x, y, phi float64, t int64, cameraID int32, isPrimary bool, cfg config.Config) error {
	dt := timeSinceSeconds(f.lastVisionAt, t)
	cameraSwitched := cameraID != f.cameraID
	f.configureTransition(f.past, dt, t, cameraSwitched, cfg)
	f.past.Predict(true)
	f.wrapCommittedState(f.past)

	z := mat.NewDense(3, 1, []float64{x, y, wrapMeasuredAngle(phi, f.past.GetX().At(2, 0))})
	R := measurementNoise(isPrimary)
	if err := f.past.Update(z, R, nil); err != nil {
		return err
	}

	f.frameCount++
	f.lastVisionAt = t
	f.cameraID = cameraID
	if isPrimary {
		f.primaryCamera = cameraID
		f.framesSinceLastPrimaryFrame = 0
	} else {
		f.framesSinceLastPrimaryFrame++
	}
	if cameraSwitched {
		f.lastCameraSwitch = t
	}
	return nil
}

// PredictTo resets the future copy from past and predicts forward to t,
// without mutating the committed past state.
func (f *RobotFilter) PredictTo(t int64, cfg config.Config) (pos geom.Vec2, phi float64, vel geom.Vec2, omega float64) {
	f.future.SetX(f.past.GetX())
	f.future.SetP(f.past.GetP())

	dt := timeSinceSeconds(f.lastVisionAt, t)
	f.configureTransition(f.future, dt, t, false, cfg)
	f.future.Predict(true)
	f.wrapCommittedState(f.future)

	x := f.future.GetX()
	return geom.Vec2{X: x.At(0, 0), Y: x.At(1, 0)}, x.At(2, 0),
		geom.Vec2{X: x.At(3, 0), Y: x.At(4, 0)}, x.At(5, 0)
}

// configureTransition rebuilds F, Q, u for a predict step, integrating the
// last actuator command.
func (f *RobotFilter) configureTransition(kf *filterpy.KalmanFilter, dt float64, now int64, cameraSwitched bool, cfg config.Config) {
	if dt < 0 {
		dt = 0
	}
	x := kf.GetX()
	phi, vx, vy, omega := x.At(2, 0), x.At(3, 0), x.At(4, 0), x.At(5, 0)

	var ax, ay, aphi float64
	if f.hasCommand && dt > 0 {
		tick := dt
		if now-f.lastCommand.Time <= int64(2*tick*1e9) {
			endPhi := phi + (omega+f.lastCommand.Omega)/2*dt
			worldVel := f.lastCommand.WorldVelocity(endPhi)
			ax = geom.Clamp((worldVel.X-vx)/dt, cfg.MaxLinearAccel)
			ay = geom.Clamp((worldVel.Y-vy)/dt, cfg.MaxLinearAccel)
			aphi = geom.Clamp((f.lastCommand.Omega-omega)/dt, cfg.MaxRotationAccel)
		}
	}

	F := kf.F
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			F.Set(i, j, 0)
		}
		F.Set(i, i, 1)
	}
	F.Set(0, 3, dt)
	F.Set(1, 4, dt)
	F.Set(2, 5, dt)
	kf.B.Copy(F)

	u := kf.U
	u.Set(0, 0, 0.5*ax*dt*dt)
	u.Set(1, 0, 0.5*ay*dt*dt)
	u.Set(2, 0, 0.5*aphi*dt*dt)
	u.Set(3, 0, ax*dt)
	u.Set(4, 0, ay*dt)
	u.Set(5, 0, aphi*dt)

	sigma := [3]float64{4, 4, 10}
	Q := kf.Q
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			Q.Set(i, j, 0)
		}
	}
	for axis := 0; axis < 3; axis++ {
		gPos := dt * dt / 2 * sigma[axis]
		gVel := dt * sigma[axis]
		posIdx, velIdx := axis, axis+3
		Q.Set(posIdx, posIdx, gPos*gPos)
		Q.Set(posIdx, velIdx, gPos*gVel)
		Q.Set(velIdx, posIdx, gPos*gVel)
		Q.Set(velIdx, velIdx, gVel*gVel)
	}
	if cameraSwitched {
		Q.Set(0, 0, Q.At(0, 0)+0.02)
		Q.Set(1, 1, Q.At(1, 1)+0.02)
		Q.Set(2, 2, Q.At(2, 2)+0.05)
	}
}

// wrapCommittedState wraps orientation to (-π,π] and clamps angular
// velocity to ±10·2π after every predict.
func (f *RobotFilter) wrapCommittedState(kf *filterpy.KalmanFilter) {
	x := kf.GetX()
	x.Set(2, 0, geom.WrapAngle(x.At(2, 0)))
	x.Set(5, 0, geom.Clamp(x.At(5, 0), maxOmega))
}

// wrapMeasuredAngle picks the representative of phi nearest reference,
// avoiding a spurious ±2π jump through the innovation when the filter's
// orientation sits near the wrap boundary.
func wrapMeasuredAngle(phi, reference float64) float64 {
	for phi-reference > math.Pi {
		phi -= 2 * math.Pi
	}
	for phi-reference < -math.Pi {
		phi += 2 * math.Pi
	}
	return phi
}

func measurementNoise(isPrimary bool) *mat.Dense {
	r := mat.NewDense(3, 3, nil)
	if isPrimary {
		r.Set(0, 0, 0.004*0.004)
		r.Set(1, 1, 0.004*0.004)
		r.Set(2, 2, 0.01*0.01)
	} else {
		r.Set(0, 0, 0.02*0.02)
		r.Set(1, 1, 0.02*0.02)
		r.Set(2, 2, 0.03*0.03)
	}
	return r
}

func timeSinceSeconds(last, now int64) float64 {
	if now <= last {
		return 0
	}
	return float64(now-last) / 1e9
}
