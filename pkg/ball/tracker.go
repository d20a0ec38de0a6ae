package ball

import (
	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/pkg/calib"
	"github.com/fieldtrack/tracker/pkg/config"
)

// BallTracker is one candidate ball across the tracking core's lifetime: a
// ground filter composed with a flight filter and a collision/dribble
// filter, plus the bookkeeping arbitration needs.
type BallTracker struct {
	collision *CollisionFilter
	fly       *FlyFilter

	initTime   int64
	frameCount int
	confidence float64

	primaryCamera               int32
	framesSinceLastPrimaryFrame int
	lastPrimaryFrameAt          int64

	lastSeen            int64
	lastVisionAt         int64
	isFeasiblyInvisible  bool

	cameraAtStart calib.Calibration
}

// NewBallTracker seeds a tracker from a single accepted detection.
func NewBallTracker(cfg config.Config, x, y float64, t int64, cameraID int32, cam calib.Calibration) *BallTracker {
	return &BallTracker{
		collision:     NewCollisionFilter(cfg.Ball, x, y, t),
		fly:           NewFlyFilter(),
		initTime:      t,
		frameCount:    1,
		confidence:    1.0,
		primaryCamera:      cameraID,
		lastPrimaryFrameAt: t,
		lastSeen:           t,
		lastVisionAt:       t,
		cameraAtStart:      cam,
	}
}

// InitTime returns the time this tracker was created. Arbitration between
// overlapping candidates prefers the oldest initTime.
func (b *BallTracker) InitTime() int64 { return b.initTime }

// FrameCount returns the number of accepted vision frames.
func (b *BallTracker) FrameCount() int { return b.frameCount }

// Confidence returns the decayed confidence score, including the active-
// tracker hysteresis bonus when isCurrentlyActive is true.
func (b *BallTracker) Confidence(isCurrentlyActive bool) float64 {
	c := b.confidence
	if isCurrentlyActive {
		c += 0.15
	}
	return c
}

// CameraDistanceHint returns the value arbitration should use in place of
// raw camera proximity when a flight is active, keeping reconstruction
// pinned to its originating camera.
func (b *BallTracker) CameraDistanceHint(flight *BallFlight, candidatePos geom.Vec2) float64 {
	if flight != nil {
		return flight.FlightStartPos.Dist(candidatePos)
	}
	return 0
}

// ChooseDetection decides whether this tracker will consume a candidate
// detection. While a flight is active, gating goes through
// FlyFilter.ChooseDetection; otherwise (including a detected shot with no
// accepted reconstruction yet) a simple proximity gate against the ground
// filter's predicted position applies.
func (b *BallTracker) ChooseDetection(x, y float64, t int64, cfg config.Config) bool {
	pos := geom.Vec2{X: x, Y: y}
	if flight := b.currentFlight(); b.fly.IsActive() && flight != nil {
		elapsed := timeSinceSeconds(b.lastVisionAt, t) + flight.FlightStartTime
		return b.fly.ChooseDetection(flight, elapsed, pos)
	}
	gpos, _ := b.collision.Ground().State()
	return gpos.Planar().Dist(pos) <= 1.0
}

func (b *BallTracker) currentFlight() *BallFlight {
	if len(b.fly.stack) == 0 {
		return nil
	}
	return b.fly.stack[len(b.fly.stack)-1]
}

// ApplyVisionFrame feeds an accepted detection through the ground/collision
// filter and maintains the shot-detection window. The reporting camera
// becomes primary only once the previous primary has gone silent for
// PrimaryCameraTimeout (camera handover).
func (b *BallTracker) ApplyVisionFrame(d ChipDetection, robots []RobotSnapshot, cfg config.Config, cameraID int32) {
	b.frameCount++
	b.lastSeen = d.Time
	b.lastVisionAt = d.Time
	b.confidence = 0.98*b.confidence + 0.02*float64(b.framesSinceLastPrimaryFrame)

	if cameraID == b.primaryCamera {
		b.lastPrimaryFrameAt = d.Time
		b.framesSinceLastPrimaryFrame = 0
	} else if timeSinceSeconds(b.lastPrimaryFrameAt, d.Time) > cfg.PrimaryCameraTimeout.Seconds() {
		b.primaryCamera = cameraID
		b.lastPrimaryFrameAt = d.Time
		b.framesSinceLastPrimaryFrame = 0
	} else {
		b.framesSinceLastPrimaryFrame++
	}

	if b.fly.IsActive() && !b.fly.ValidateBounce(d.BallPos) {
		b.fly.Reset()
	}

	b.collision.ProcessVisionFrame(d.BallPos.X, d.BallPos.Y, d.Time, robots, cfg)
	b.fly.PushSample(d)
	b.fly.DetectShot()

	if b.fly.IsActive() {
		accepted := false
		var flight *BallFlight
		if pinv := b.fly.Reconstruct(b.cameraAtStart); pinv != nil {
			elapsed := timeSinceSeconds(b.fly.kickFrames[0].CaptureTime, d.CaptureTime)
			if b.fly.AcceptsReconstruction(pinv, elapsed, cameraID != b.primaryCamera) {
				flight, accepted = pinv, true
			}
		}
		if !accepted {
			if alt := b.fly.ShotDirectionReconstruction(b.cameraAtStart); alt != nil && b.fly.AcceptsShotDirectionReconstruction(alt) {
				flight, accepted = alt, true
			}
		}
		// A new fit supersedes the first segment; once a bounce has pushed a
		// later segment, only RefitPostBounceDirection revises the stack.
		if accepted && len(b.fly.stack) == 0 {
			b.fly.stack = append(b.fly.stack, flight)
		} else if accepted && len(b.fly.stack) == 1 {
			b.fly.stack[0] = flight
		}
		b.fly.RefitPostBounceDirection(b.cameraAtStart)
	}

	b.isFeasiblyInvisible = b.collision.IsBoundToRobot()
}

// ApplyEmptyTick advances the filter with no detection this tick.
func (b *BallTracker) ApplyEmptyTick(dt float64, t int64, robots []RobotSnapshot, cfg config.Config) {
	b.framesSinceLastPrimaryFrame++
	b.collision.ProcessEmptyTick(dt, t, robots, cfg)
	b.isFeasiblyInvisible = b.collision.IsBoundToRobot()

	if flight := b.currentFlight(); flight != nil {
		elapsed := timeSinceSeconds(b.lastVisionAt, t) + flight.FlightStartTime
		predictedDuration := 2 * flight.ZSpeed / gravity
		if b.fly.DetectBounce(flight, elapsed, predictedDuration) {
			model := BounceModel{ZDamping: cfg.Ball.ZDamping, XYDamping: cfg.Ball.XYDamping}
			landing := flight.FlightStartPos.Add(flight.GroundSpeed.Scale(predictedDuration))
			b.fly.Bounce(model, flight, landing, 0)
		}
	}
}

// IsStale reports whether this tracker should be dropped given how long it
// has gone without a vision update.
func (b *BallTracker) IsStale(now int64, multipleVisible bool) bool {
	since := timeSinceSeconds(b.lastVisionAt, now)
	switch {
	case multipleVisible:
		return since > 0.1
	case b.isFeasiblyInvisible:
		return since > 10.0
	default:
		return since > 1.0
	}
}

// WriteBallState produces the egress ball record.
func (b *BallTracker) WriteBallState(now int64, cfg config.Config, robots []RobotSnapshot) (pos, vel geom.Vec3, bouncing bool, touchdown *geom.Vec2) {
	if flight := b.currentFlight(); flight != nil {
		elapsed := timeSinceSeconds(b.lastVisionAt, now) + flight.FlightStartTime
		x := flight.FlightStartPos.X + flight.GroundSpeed.X*elapsed
		y := flight.FlightStartPos.Y + flight.GroundSpeed.Y*elapsed
		z := flight.ZSpeed*elapsed - 0.5*gravity*elapsed*elapsed
		if z < 0 {
			z = 0
		}
		vz := flight.ZSpeed - gravity*elapsed
		maxFlightTime := 2 * flight.ZSpeed / gravity
		tdAt := flight.FlightStartTime + maxFlightTime
		tdPos := flight.FlightStartPos.Add(flight.GroundSpeed.Scale(maxFlightTime))
		_ = tdAt
		return geom.Vec3{X: x, Y: y, Z: z},
			geom.Vec3{X: flight.GroundSpeed.X, Y: flight.GroundSpeed.Y, Z: vz},
			false,
			&tdPos
	}
	p, v, isBouncing := b.collision.ReportState(now, cfg, robots)
	return p, v, isBouncing, nil
}
