package ball

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/internal/lstsq"
	"github.com/fieldtrack/tracker/pkg/calib"
)

const (
	chipWindowSize  = 8
	maxKickFrames   = 200
	maxBiasGrowIter = 40 // upper bound on bias-strength growth steps per reconstruction
)

// ChipDetection is one sample in the shot-detection sliding window.
type ChipDetection struct {
	DribblerSpeed float64
	AbsSpeed      float64
	Time          int64 // ns
	CaptureTime   int64 // ns
	BallPos       geom.Vec2
	DribblerPos   geom.Vec2
	RobotPos      geom.Vec2
	CameraID      int32
	ShootCommand  ShootCommand
	RobotID       int32
}

// ShootCommand mirrors the actuator's kick style flags.
type ShootCommand int

const (
	ShootNone ShootCommand = iota
	ShootLinear
	ShootChip
)

// BallFlight is one parabolic arc between bounces.
type BallFlight struct {
	FlightStartPos        geom.Vec2
	FlightStartTime        float64 // seconds, relative
	CaptureFlightStartTime float64 // seconds, capture-clock relative
	GroundSpeed            geom.Vec2
	ZSpeed                 float64
	StartFrame             int
	ReconstructionError    float64
}

// FlyFilter detects chip kicks and reconstructs 3D parabolic trajectories.
// It is the densest component of the tracking core.
type FlyFilter struct {
	window     []ChipDetection // ring, capacity chipWindowSize
	kickFrames []ChipDetection // capped at maxKickFrames

	stack []*BallFlight // reconstruction stack; non-empty while active

	biasStrength   float64
	shotStartFrame int
	lastBounceFrame int
	chipDetected   bool
	active         bool

	// design matrix accumulation for the pseudoinverse fit
	firstCaptureTime int64
	cameraAtStart    calib.Calibration
}

// NewFlyFilter creates an inactive flight filter; it becomes active only
// once a shot is detected.
func NewFlyFilter() *FlyFilter {
	return &FlyFilter{biasStrength: 0.1}
}

// IsActive reports whether a flight is currently being tracked.
func (f *FlyFilter) IsActive() bool { return f.active }

// PushSample appends a sample to the sliding shot-detection window,
// evicting the oldest once full (a ring of size 8). While a flight is
// active it also extends kickFrames and applies the termination clauses: a
// shooting robot that keeps the ball within dribbling range for more than
// 10 frames was never airborne, a collision-shaped kink in the ground
// track ends the flight outright, 30 frames without ever confirming a
// chip means there was nothing to reconstruct, and maxKickFrames is the
// final hard cap regardless of cause.
func (f *FlyFilter) PushSample(s ChipDetection) {
	f.window = append(f.window, s)
	if len(f.window) > chipWindowSize {
		f.window = f.window[len(f.window)-chipWindowSize:]
	}
	if !f.active {
		return
	}
	f.kickFrames = append(f.kickFrames, s)

	if len(f.kickFrames) > 10 && s.BallPos.Dist(s.RobotPos) < 0.12 && f.kickFrames[0].RobotID == s.RobotID {
		f.Reset()
		return
	}
	if f.checkCollisionTermination() {
		f.Reset()
		return
	}
	if len(f.kickFrames) > 30 && !f.chipDetected {
		f.Reset()
		return
	}
	if len(f.kickFrames) > maxKickFrames {
		f.Reset()
	}
}

// checkCollisionTermination evaluates DetectCollisionTermination over the
// three most recently accumulated kick frames and the active flight's
// currently predicted height.
func (f *FlyFilter) checkCollisionTermination() bool {
	n := len(f.kickFrames)
	if n <= 5 {
		return false
	}
	first, second, third := f.kickFrames[n-3], f.kickFrames[n-2], f.kickFrames[n-1]
	v1 := first.BallPos.Sub(second.BallPos)
	v2 := third.BallPos.Sub(second.BallPos)

	height := 0.0
	if len(f.stack) > 0 {
		flight := f.stack[len(f.stack)-1]
		elapsed := float64(third.CaptureTime)/1e9 - flight.CaptureFlightStartTime
		height = flight.ZSpeed*elapsed - 0.5*gravity*elapsed*elapsed
	}

	return DetectCollisionTermination(v1, v2, height, third.BallPos.Dist(third.RobotPos))
}

// DetectShot evaluates the 4-wide sub-window ending two frames back for the
// shot predicate. Returns true and seeds kickFrames if a shot is newly
// detected.
func (f *FlyFilter) DetectShot() bool {
	if f.active || len(f.window) < 6 {
		return false
	}
	// "a 4-wide sub-window ending two frames back" out of the 8-wide ring.
	end := len(f.window) - 2
	if end < 4 {
		return false
	}
	w := f.window[end-4 : end]

	dribblerDist := make([]float64, 4)
	for i, s := range w {
		dribblerDist[i] = s.BallPos.Dist(s.DribblerPos)
	}

	increasing := true
	for i := 1; i < 4; i++ {
		if dribblerDist[i] <= dribblerDist[i-1] {
			increasing = false
			break
		}
	}

	shot := increasing &&
		dribblerDist[3]-dribblerDist[0] > 0.06 &&
		dribblerDist[0] < 0.10 &&
		w[1].AbsSpeed-w[0].AbsSpeed > 0.20 &&
		w[1].AbsSpeed > 1.0 &&
		w[1].DribblerSpeed > w[0].DribblerSpeed &&
		w[1].DribblerSpeed > 0.10

	if !shot {
		return false
	}

	f.active = true
	f.chipDetected = false
	f.kickFrames = append([]ChipDetection{}, w[1:4]...)

	wasDribbling := w[0].BallPos.Dist(w[0].DribblerPos) < 0.05
	if wasDribbling {
		f.shotStartFrame = 1
	} else {
		f.shotStartFrame = 0
	}

	cmd := ShootNone
	for _, s := range w {
		if s.ShootCommand > cmd {
			cmd = s.ShootCommand
		}
	}
	f.chipDetected = cmd == ShootChip

	return true
}

// EffectiveKickCommand demotes a chip command with power in (0, 0.5) to
// LINEAR, since such a kick is too weak to fly; any other command is
// returned unchanged.
func EffectiveKickCommand(cmd ShootCommand, power float64) ShootCommand {
	if cmd == ShootChip && power > 0 && power < 0.5 {
		return ShootLinear
	}
	return cmd
}

// Reset clears the active flight and kick frames.
func (f *FlyFilter) Reset() {
	f.active = false
	f.kickFrames = nil
	f.stack = nil
	f.chipDetected = false
	f.shotStartFrame = 0
	f.lastBounceFrame = 0
}

// framesSinceShotStart returns how many kick frames have accumulated since
// shotStartFrame, used by the "≥9 samples" gate in AcceptsReconstruction.
func (f *FlyFilter) framesSinceShotStart() int {
	n := len(f.kickFrames) - f.shotStartFrame
	if n < 0 {
		return 0
	}
	return n
}

// reconstructionSlope derives the design matrix's per-sample height
// coefficient directly from calib.Calibration.Unproject, by evaluating it at
// two assumed heights and differencing: Unproject's ray-intersection math is
// affine in h, so this recovers the exact slope without re-deriving the
// camera's position algebra a second time here. A camera with unknown height
// (Position.Z == 0) can't unproject at all; that case falls back to the
// detection's unscaled offset from the camera's planar position, as if the
// camera sat at unit height (Unproject's own z==0 passthrough would give a
// zero slope).
func reconstructionSlope(cam calib.Calibration, detected geom.Vec2) (alpha, beta float64) {
	if cam.Position.Z == 0 {
		return detected.X - cam.Position.X, detected.Y - cam.Position.Y
	}
	lo := cam.Unproject(detected.X, detected.Y, 0)
	hi := cam.Unproject(detected.X, detected.Y, 1)
	return lo.X - hi.X, lo.Y - hi.Y
}

// Reconstruct attempts the pseudoinverse chip reconstruction over the
// accumulated kickFrames, using the camera at flight start. Returns nil if
// there are too few samples or the fit is numerically rejected.
func (f *FlyFilter) Reconstruct(cam calib.Calibration) *BallFlight {
	n := len(f.kickFrames)
	if n < 3 {
		return nil
	}

	first := f.kickFrames[0]
	rows := 2*n + 2
	D := mat.NewDense(rows, 6, nil)
	d := mat.NewVecDense(rows, nil)

	bias := f.biasStrength
	// Soft prior pinning (x0,y0) to the first-in-air position (rows 0,1).
	D.Set(0, 2, bias)
	d.SetVec(0, bias*first.BallPos.X)
	D.Set(1, 4, bias)
	d.SetVec(1, bias*first.BallPos.Y)

	for i, s := range f.kickFrames {
		alpha, beta := reconstructionSlope(cam, s.BallPos)
		ti := float64(s.CaptureTime-first.CaptureTime) / 1e9

		r0 := 2 + 2*i
		r1 := r0 + 1
		D.Set(r0, 0, alpha)
		D.Set(r0, 1, alpha*ti)
		D.Set(r0, 2, 1)
		D.Set(r0, 3, ti)
		d.SetVec(r0, alpha*0.5*gravity*ti*ti+s.BallPos.X)

		D.Set(r1, 0, beta)
		D.Set(r1, 1, beta*ti)
		D.Set(r1, 4, 1)
		D.Set(r1, 5, ti)
		d.SetVec(r1, beta*0.5*gravity*ti*ti+s.BallPos.Y)
	}

	p, err := lstsq.Solve(D, d)
	// Grow biasStrength and re-solve while the fitted start lies 0.03m or more
	// from the first in-air position, at most maxBiasGrowIter times.
	grown := false
	for iter := 0; err == nil && iter < maxBiasGrowIter && (geom.Vec2{X: p.AtVec(2), Y: p.AtVec(4)}).Dist(first.BallPos) >= 0.03; iter++ {
		f.biasStrength *= 1.2
		D.Set(0, 2, f.biasStrength)
		d.SetVec(0, f.biasStrength*first.BallPos.X)
		D.Set(1, 4, f.biasStrength)
		d.SetVec(1, f.biasStrength*first.BallPos.Y)
		p, err = lstsq.Solve(D, d)
		grown = true
	}
	if err != nil {
		return nil
	}

	z0, vz, x0, vx, y0, vy := p.AtVec(0), p.AtVec(1), p.AtVec(2), p.AtVec(3), p.AtVec(4), p.AtVec(5)

	disc := vz*vz + 2*gravity*z0
	if disc < 0 {
		return nil
	}

	residual := lstsq.Residual(D, p, d) / float64(n)

	// A first fit that already met the start-position target shrinks
	// biasStrength for the next call.
	predictedStart := geom.Vec2{X: x0, Y: y0}
	errDist := predictedStart.Dist(first.BallPos)
	if !grown && errDist < 0.03 {
		f.biasStrength /= 1.2
		if f.biasStrength < 0.01 {
			f.biasStrength = 0.01
		}
	}

	tg := (vz - math.Sqrt(disc)) / gravity
	groundSpeed := geom.Vec2{X: vx, Y: vy}
	startPos := predictedStart.Add(groundSpeed.Scale(tg))
	startVZ := vz - gravity*tg

	return &BallFlight{
		FlightStartPos:         startPos,
		FlightStartTime:        tg,
		CaptureFlightStartTime: float64(first.CaptureTime) / 1e9,
		GroundSpeed:            groundSpeed,
		ZSpeed:                 startVZ,
		StartFrame:             0,
		ReconstructionError:    residual,
	}
}

// AcceptsReconstruction applies the reconstruction acceptance predicate.
func (f *FlyFilter) AcceptsReconstruction(bf *BallFlight, elapsed float64, cameraChanged bool) bool {
	if bf.ZSpeed <= 1 || bf.ZSpeed >= 10 {
		return false
	}
	if bf.ReconstructionError >= 0.003 {
		return false
	}
	groundSpeed := bf.GroundSpeed.Norm()
	if groundSpeed <= 1.5 {
		return false
	}
	maxFlightTime := 2 * bf.ZSpeed / gravity
	if elapsed >= maxFlightTime {
		return false
	}
	maxHeight := bf.ZSpeed * bf.ZSpeed / (2 * gravity)
	heightThreshold := 0.3
	if cameraChanged {
		heightThreshold = 0.5
	}
	if maxHeight <= heightThreshold {
		return false
	}
	if f.framesSinceShotStart() >= 9 {
		return true
	}
	if f.chipDetected {
		return true
	}
	return f.speedSlopeHeuristic()
}

// ApproxGroundDirection estimates a shot's ground-track direction from the
// kicking robot's own geometry (dribbler position relative to robot center)
// at the first in-air frame. Used as a direction prior when Reconstruct's
// curvature-based fit can't pin a direction down on its own: a shot lined up
// too closely with the camera's nadir barely curves, so the unconstrained
// 6-unknown fit has almost nothing to resolve direction from.
func (f *FlyFilter) ApproxGroundDirection() geom.Vec2 {
	s := f.kickFrames[f.shotStartFrame]
	return s.DribblerPos.Sub(s.RobotPos)
}

// ConstrainedReconstruct fits only the vertical speed, a start-height
// correction, and a ground-speed magnitude along a pre-supplied direction,
// instead of Reconstruct's full 6-unknown design matrix. This is the
// alternative chip-reconstruction path used when the ground direction is
// supplied externally (from the kicking robot's heading) rather than solved
// for.
func (f *FlyFilter) ConstrainedReconstruct(cam calib.Calibration, shotStartPos, groundDir geom.Vec2, startTime float64, startFrame int) *BallFlight {
	norm := groundDir.Norm()
	if norm == 0 || startFrame >= len(f.kickFrames) {
		return nil
	}
	groundDir = groundDir.Scale(1 / norm)

	n := len(f.kickFrames) - startFrame
	if n < 2 {
		return nil
	}
	rows := 2 * n
	D := mat.NewDense(rows, 3, nil)
	d := mat.NewVecDense(rows, nil)

	for i := startFrame; i < len(f.kickFrames); i++ {
		s := f.kickFrames[i]
		alpha, beta := reconstructionSlope(cam, s.BallPos)
		ti := float64(s.CaptureTime)/1e9 - startTime

		base := (i - startFrame) * 2
		D.Set(base, 0, alpha*ti)
		D.Set(base, 1, groundDir.X*ti)
		D.Set(base, 2, alpha)
		d.SetVec(base, 0.5*gravity*alpha*ti*ti+s.BallPos.X-shotStartPos.X)

		D.Set(base+1, 0, beta*ti)
		D.Set(base+1, 1, groundDir.Y*ti)
		D.Set(base+1, 2, beta)
		d.SetVec(base+1, 0.5*gravity*beta*ti*ti+s.BallPos.Y-shotStartPos.Y)
	}

	p, err := lstsq.Solve(D, d)
	if err != nil {
		return nil
	}
	residual := lstsq.Residual(D, p, d) / float64(n)
	vz, speed := p.AtVec(0), p.AtVec(1)

	return &BallFlight{
		FlightStartPos:         shotStartPos,
		FlightStartTime:        startTime,
		CaptureFlightStartTime: startTime,
		GroundSpeed:            groundDir.Scale(speed),
		ZSpeed:                 vz,
		StartFrame:             startFrame,
		ReconstructionError:    residual,
	}
}

// ShotDirectionReconstruction runs ConstrainedReconstruct with the kicking
// robot's own heading as the ground direction, the fallback chip
// reconstruction path tried once Reconstruct's own fit is rejected.
func (f *FlyFilter) ShotDirectionReconstruction(cam calib.Calibration) *BallFlight {
	if f.shotStartFrame >= len(f.kickFrames) {
		return nil
	}
	first := f.kickFrames[f.shotStartFrame]
	startTime := float64(first.CaptureTime)/1e9 - 0.01 // the actual kick predates the first in-air frame by ~10ms
	return f.ConstrainedReconstruct(cam, first.BallPos, f.ApproxGroundDirection(), startTime, f.shotStartFrame)
}

// AcceptsShotDirectionReconstruction applies the shot-direction acceptance
// predicate: the robot's heading must roughly agree with the ball's actual
// displacement, the window must be a plausible shot length, and the fitted
// arc must be a real chip rather than a grazing, barely-airborne roll.
func (f *FlyFilter) AcceptsShotDirectionReconstruction(bf *BallFlight) bool {
	frames := len(f.kickFrames) - f.shotStartFrame
	if frames <= 5 || frames >= 15 {
		return false
	}
	if bf.ZSpeed <= 1 || bf.ZSpeed >= 10 {
		return false
	}
	if bf.GroundSpeed.Norm() >= 10 {
		return false
	}
	maxHeight := bf.ZSpeed * bf.ZSpeed / (2 * gravity)
	if maxHeight <= 0.3 {
		return false
	}

	first := f.kickFrames[0].BallPos
	last := f.kickFrames[len(f.kickFrames)-1].BallPos
	angle := angleBetween(last.Sub(first), f.ApproxGroundDirection())
	return angle < 0.7
}

// speedSlopeHeuristic implements the "speed slope" detection fallback,
// using gonum/stat's linear regression over per-frame ground speed: flights
// keep roughly constant ground speed, rolling shots decelerate, so a
// positive slope above 0.005 over >=16 same-camera frames indicates a
// genuine flight rather than a roll.
func (f *FlyFilter) speedSlopeHeuristic() bool {
	if len(f.kickFrames) < 16 {
		return false
	}
	cam := f.kickFrames[0].CameraID
	var xs, ys []float64
	for i, s := range f.kickFrames {
		if s.CameraID != cam {
			continue
		}
		xs = append(xs, float64(i))
		ys = append(ys, s.AbsSpeed)
	}
	if len(xs) < 16 {
		return false
	}

	avg := stat.Mean(ys, nil)
	var fxs, fys []float64
	for i, y := range ys {
		if y <= avg*1.4 {
			fxs = append(fxs, xs[i])
			fys = append(fys, y)
		}
	}
	if len(fxs) < 2 {
		return false
	}

	_, slope := stat.LinearRegression(fxs, fys, nil, false)
	return slope > 0.005
}

// DetectBounce implements the geometric bounce detector: a bounce is
// declared once more than 0.3s have elapsed and the segment's predicted
// duration is exceeded. No curvature-based detection is done here.
// elapsed is seconds since the current flight segment started;
// predictedDuration is 2*zSpeed/g for the current segment.
func (f *FlyFilter) DetectBounce(current *BallFlight, elapsed, predictedDuration float64) bool {
	return elapsed > 0.3 && elapsed > predictedDuration
}

// Bounce pushes a new BallFlight reflecting zSpeed and scaling groundSpeed.
func (f *FlyFilter) Bounce(model BounceModel, prev *BallFlight, atPos geom.Vec2, atTime float64) *BallFlight {
	next := &BallFlight{
		FlightStartPos:         atPos,
		FlightStartTime:        atTime,
		CaptureFlightStartTime: prev.CaptureFlightStartTime + atTime,
		GroundSpeed:            prev.GroundSpeed.Scale(model.XYDamping),
		ZSpeed:                 prev.ZSpeed * model.ZDamping,
		StartFrame:             len(f.kickFrames),
	}
	f.stack = append(f.stack, next)
	return next
}

// ValidateBounce reports whether a freshly accepted detection is consistent
// with the most recent bounce's predicted landing spot, within 0.3m.
// Otherwise the bounce trigger was spurious — most likely a second, real
// collision rather than a clean bounce — and the active flight must be
// abandoned rather than continued from a bad landing estimate.
func (f *FlyFilter) ValidateBounce(detected geom.Vec2) bool {
	if len(f.stack) < 2 {
		return true
	}
	latest := f.stack[len(f.stack)-1]
	return latest.FlightStartPos.Dist(detected) <= 0.3
}

// RefitPostBounceDirection re-estimates the post-bounce segment once its
// track has visibly spread sideways off the damped heading. The refit keeps
// that heading and re-solves only the ground-speed magnitude and zSpeed
// with ConstrainedReconstruct; it never changes the direction.
// Applies only once the perpendicular spread off the damped heading exceeds
// 0.05m over more than 4 frames since the bounce.
func (f *FlyFilter) RefitPostBounceDirection(cam calib.Calibration) {
	if len(f.stack) < 2 {
		return
	}
	current := f.stack[len(f.stack)-1]
	if current.StartFrame >= len(f.kickFrames) {
		return
	}
	framesSinceBounce := len(f.kickFrames) - 1 - current.StartFrame
	if framesSinceBounce <= 4 {
		return
	}

	shotDir := current.GroundSpeed
	norm := shotDir.Norm()
	if norm == 0 {
		return
	}
	shotDir = shotDir.Scale(1 / norm)
	side := shotDir.Perp()

	minD, maxD := math.Inf(1), math.Inf(-1)
	for i := current.StartFrame; i < len(f.kickFrames); i++ {
		off := f.kickFrames[i].BallPos.Sub(current.FlightStartPos).Dot(side)
		if off < minD {
			minD = off
		}
		if off > maxD {
			maxD = off
		}
	}
	if maxD-minD <= 0.05 {
		return
	}

	refit := f.ConstrainedReconstruct(cam, current.FlightStartPos, shotDir, current.CaptureFlightStartTime, current.StartFrame)
	if refit == nil {
		return
	}
	previous := f.stack[len(f.stack)-2]
	if refit.GroundSpeed.Norm() < previous.GroundSpeed.Norm() && refit.ZSpeed > 0 && refit.ZSpeed < previous.ZSpeed {
		f.stack[len(f.stack)-1] = refit
	}
}

// BounceModel is the subset of config.BallModel the flight filter needs
// for bounce damping.
type BounceModel struct {
	ZDamping  float64
	XYDamping float64
}

// ChooseDetection reports whether candidate is an acceptable detection for
// the active flight: while a flight is active, a candidate ground
// detection is only accepted if its unprojected position lies within 0.35m
// of the predicted ground shadow; otherwise the filter abstains.
func (f *FlyFilter) ChooseDetection(current *BallFlight, elapsed float64, candidate geom.Vec2) bool {
	if !f.active || current == nil {
		return false
	}
	shadow := current.FlightStartPos.Add(current.GroundSpeed.Scale(elapsed))
	return shadow.Dist(candidate) <= 0.35
}

// DetectCollisionTermination implements the collision-based reset clause:
// angle between consecutive motion vectors deviates from π by more than
// 0.14π, ball height < 0.15m, and ball-robot distance < 0.18m.
func DetectCollisionTermination(v1, v2 geom.Vec2, height, ballRobotDist float64) bool {
	if height >= 0.15 || ballRobotDist >= 0.18 {
		return false
	}
	angle := math.Abs(angleBetween(v1, v2) - math.Pi)
	return angle > 0.14*math.Pi
}

func angleBetween(a, b geom.Vec2) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	cosT := a.Dot(b) / (na * nb)
	if cosT > 1 {
		cosT = 1
	}
	if cosT < -1 {
		cosT = -1
	}
	return math.Acos(cosT)
}
