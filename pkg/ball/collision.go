package ball

import (
	"math"

	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/pkg/config"
)

// RobotSnapshot is the per-tick borrow of robot state the ball subsystem
// needs for collision/dribble reasoning. It is scoped to a single tick and
// never retained past the tick that produced it.
type RobotSnapshot struct {
	ID              int32
	Pos             geom.Vec2
	DribblerPos     geom.Vec2
	Orientation     float64
	Velocity        geom.Vec2
	AngularVelocity float64
	DribblerActive  bool
	ShootCommand    ShootCommand
	ShootPower      float64
}

// SurfaceVelocity returns the robot's velocity at a robot-local offset r,
// robotVel + ω×r.
func (r RobotSnapshot) SurfaceVelocity(localOffset geom.Vec2) geom.Vec2 {
	worldOffset := localOffset.Rotate(r.Orientation)
	omegaCrossR := worldOffset.Perp().Scale(r.AngularVelocity)
	return r.Velocity.Add(omegaCrossR)
}

// WorldOffsetPos returns robotPos + Rot(phi)*r_local.
func (r RobotSnapshot) WorldOffsetPos(localOffset geom.Vec2) geom.Vec2 {
	return r.Pos.Add(localOffset.Rotate(r.Orientation))
}

// BallOffsetInfo binds the ball to a robot-relative offset while dribbling
// or intersecting a robot.
type BallOffsetInfo struct {
	RobotIdentifier  int32
	BallOffset       geom.Vec2 // robot-local
	PushingBallPos   geom.Vec2
	StopDribblingPos geom.Vec2
	ForceDribbleMode bool
	IsIntersecting   bool
	DribblerActive   bool
}

// dribbleState names the CollisionFilter state. ProcessVisionFrame,
// updateDribbleOffset and ReportState branch on it alongside the optional
// offset binding.
type dribbleState int

const (
	stateFree dribbleState = iota
	stateIntersecting
	stateDribblingForced
	stateInvisibleStanding
	stateStoppedDribbling
)

// CollisionFilter wraps a GroundFilter and implements the ball/robot
// collision and dribbling state machine.
type CollisionFilter struct {
	ground *GroundFilter
	model  config.BallModel

	offset *BallOffsetInfo
	state  dribbleState

	lastReportedPos geom.Vec2
	invisibleFrames int
	maxSpeed        float64
	inFrontFrames   int
	inFrontRobot    int32

	stopDribblingAt int64 // ns timestamp stop-dribbling began

	pastBallPos geom.Vec2
}

// NewCollisionFilter creates a collision filter wrapping a fresh ground
// filter seeded at (x,y).
func NewCollisionFilter(model config.BallModel, x, y float64, t int64) *CollisionFilter {
	return &CollisionFilter{
		ground:          NewGroundFilter(model, x, y, t),
		model:           model,
		lastReportedPos: geom.Vec2{X: x, Y: y},
		pastBallPos:     geom.Vec2{X: x, Y: y},
	}
}

// Ground exposes the wrapped ground filter for direct inspection (the ball
// tracker needs it for arbitration distance, flight hand-off, etc.).
func (c *CollisionFilter) Ground() *GroundFilter { return c.ground }

// IsBoundToRobot reports whether the ball's reported position is currently
// derived from a robot offset (dribbling, being pushed, or frozen at a
// stop-dribbling point) rather than a direct vision detection. A ball in
// this state is plausibly occluded from every camera by the robot itself.
func (c *CollisionFilter) IsBoundToRobot() bool { return c.offset != nil }

// capsuleRadius returns the effective capsule radius for ball/robot
// intersection, robotRadius+ballRadius.
func (c *CollisionFilter) capsuleRadius(cfg config.Config) float64 {
	return cfg.RobotRadius + cfg.BallRadius
}

// segmentIntersectsCapsule reports whether the segment from->to passes
// within radius of the robot center. The hull is approximated as that
// circle, clipped by rejecting a closest point that lies more than
// 0.2·radius behind the robot center along its heading.
func segmentIntersectsCapsule(from, to, robotPos geom.Vec2, robotHeading float64, radius float64) bool {
	d := to.Sub(from)
	length := d.Norm()
	if length == 0 {
		return from.Dist(robotPos) <= radius
	}
	t := d.Dot(robotPos.Sub(from)) / (length * length)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	closest := from.Add(d.Scale(t))
	if closest.Dist(robotPos) > radius {
		return false
	}
	// Reject closest points well behind the robot's center.
	toClosest := closest.Sub(robotPos)
	heading := geom.FromPolar(1, robotHeading)
	return toClosest.Dot(heading) > -radius*0.2
}

// ProcessVisionFrame handles an accepted detection: clears invisibleFrames,
// resolves any pending dribble offset against the new detection, or
// otherwise runs the ground filter update directly.
func (c *CollisionFilter) ProcessVisionFrame(x, y float64, t int64, robots []RobotSnapshot, cfg config.Config) {
	c.invisibleFrames = 0
	detected := geom.Vec2{X: x, Y: y}

	closeToShadow := false
	for _, r := range robots {
		if c.isShadowedBy(detected, r, cfg) {
			closeToShadow = true
			break
		}
	}
	if closeToShadow {
		c.ground.SetObservationStdDev(0.02)
	} else {
		c.ground.SetObservationStdDev(0.003)
	}

	if c.offset != nil && c.offset.IsIntersecting {
		c.ground.Reset(x, y, t)
		if r, ok := findRobot(robots, c.offset.RobotIdentifier); ok {
			surfaceVel := r.SurfaceVelocity(c.offset.BallOffset)
			c.ground.SetSpeed(surfaceVel.X, surfaceVel.Y)
		}
		c.offset = nil
		c.state = stateFree
	} else if c.state == stateStoppedDribbling {
		// Vision reacquired the ball: a ball only ever enters this state by
		// having its dribbler go inactive (updateDribbleOffset), so it always
		// left the robot at rest, never carrying the robot's own speed.
		c.ground.Reset(x, y, t)
		c.offset = nil
		c.state = stateFree
	} else {
		c.ground.Predict(timeSinceSeconds(c.ground.LastUpdate(), t), true)
		if err := c.ground.Update(x, y, t); err == nil {
			_, vel := c.ground.State()
			speed := math.Hypot(vel.X, vel.Y)
			if speed > c.maxSpeed {
				c.maxSpeed = speed
			}
		}
	}

	c.checkVolleyReset(detected, robots, cfg)
	c.pastBallPos = detected
	c.lastReportedPos = detected
}

// ProcessEmptyTick handles a tick with no accepted detection: advance
// prediction, increment invisibleFrames, and attempt collision and dribble
// detection against every robot.
func (c *CollisionFilter) ProcessEmptyTick(dt float64, t int64, robots []RobotSnapshot, cfg config.Config) {
	c.invisibleFrames++
	c.ground.Predict(dt, true)

	if c.offset != nil {
		c.updateDribbleOffset(t, robots, cfg)
		return
	}

	pos, _ := c.ground.State()
	current := pos.Planar()
	capsule := c.capsuleRadius(cfg)

	for _, r := range robots {
		pastOutside := c.pastBallPos.Dist(r.Pos) > capsule
		currentInside := current.Dist(r.Pos) <= capsule
		if pastOutside && currentInside {
			c.enterIntersecting(r, current, t)
			return
		}

		front := r.WorldOffsetPos(geom.Vec2{X: cfg.RobotRadius + 0.03, Y: 0})
		nearDribbler := current.Dist(front) <= (cfg.RobotRadius+0.03)+(cfg.DribblerWidth+0.02)
		if nearDribbler && current.Dist(r.Pos) <= cfg.RobotRadius+cfg.BallRadius {
			c.enterDribbling(r, current, t, false)
			return
		}

		c.trackRotateAndDribbleCandidate(r, current)
	}

	if c.inFrontFrames > 15 {
		if r, ok := findRobot(robots, c.inFrontRobot); ok && c.isShadowedBy(current, r, cfg) {
			c.enterDribbling(r, current, t, true)
		}
	}
}

func (c *CollisionFilter) trackRotateAndDribbleCandidate(r RobotSnapshot, current geom.Vec2) {
	inFront := current.Dist(r.Pos) <= 0.15
	if inFront {
		if c.inFrontRobot == r.ID {
			c.inFrontFrames++
		} else {
			c.inFrontRobot = r.ID
			c.inFrontFrames = 1
		}
	}
}

// isShadowedBy approximates ball visibility with the robot's footprint: the
// ball counts as shadowed when it lies within the robot radius inflated by
// 1.03. The collision filter does not own a camera reference (that's the
// ball tracker's job), so no camera-to-ball line is tested; for a
// downward-looking overhead camera the shadow is close to the footprint.
func (c *CollisionFilter) isShadowedBy(pos geom.Vec2, r RobotSnapshot, cfg config.Config) bool {
	const inflate = 1.03
	return pos.Dist(r.Pos) <= cfg.RobotRadius*inflate
}

// updateDribbleOffset refreshes a bound offset every tick it has no vision
// detection to resolve against: a robot that was dribbling and switches its
// dribbler off freezes the ball at its last held position instead of
// continuing to report the robot's own motion, and a stale stop-dribbling
// binding fully releases back to free flight once it has sat there longer
// than ResetSpeedTime.
func (c *CollisionFilter) updateDribbleOffset(t int64, robots []RobotSnapshot, cfg config.Config) {
	r, ok := findRobot(robots, c.offset.RobotIdentifier)
	if !ok {
		return
	}
	worldPos := r.WorldOffsetPos(c.offset.BallOffset)

	if c.state == stateStoppedDribbling {
		if timeSinceSeconds(c.stopDribblingAt, t) > cfg.ResetSpeedTime.Seconds() {
			c.ground.Reset(c.offset.StopDribblingPos.X, c.offset.StopDribblingPos.Y, t)
			c.offset = nil
			c.state = stateFree
		}
		return
	}

	if c.offset.DribblerActive && !r.DribblerActive {
		c.offset.StopDribblingPos = worldPos
		c.stopDribblingAt = t
		c.state = stateStoppedDribbling
		return
	}

	if r.DribblerActive {
		c.offset.DribblerActive = true
		c.offset.StopDribblingPos = worldPos
	}
}

func (c *CollisionFilter) enterIntersecting(r RobotSnapshot, at geom.Vec2, t int64) {
	localOffset := at.Sub(r.Pos).Rotate(-r.Orientation)
	c.offset = &BallOffsetInfo{
		RobotIdentifier: r.ID,
		BallOffset:      localOffset,
		IsIntersecting:  true,
		DribblerActive:  r.DribblerActive,
	}
	c.state = stateIntersecting
}

func (c *CollisionFilter) enterDribbling(r RobotSnapshot, at geom.Vec2, t int64, forced bool) {
	localOffset := at.Sub(r.Pos).Rotate(-r.Orientation)
	c.offset = &BallOffsetInfo{
		RobotIdentifier:  r.ID,
		BallOffset:       localOffset,
		ForceDribbleMode: forced,
		DribblerActive:   r.DribblerActive,
		PushingBallPos:   at,
	}
	if forced {
		c.state = stateDribblingForced
	} else {
		c.state = stateInvisibleStanding
	}
}

// checkVolleyReset implements the volley-shot reset: if the future ball
// position intersects a robot and the previous tick did too, but the
// current position does not, and the relative speed exceeds 2 m/s, reset
// the ground filter to this detection so the outgoing speed isn't averaged
// with the incoming one.
func (c *CollisionFilter) checkVolleyReset(detected geom.Vec2, robots []RobotSnapshot, cfg config.Config) {
	pos, vel := c.ground.State()
	future := pos.Planar().Add(geom.Vec2{X: vel.X, Y: vel.Y}.Scale(0.05))
	capsule := c.capsuleRadius(cfg)

	for _, r := range robots {
		futureIntersects := future.Dist(r.Pos) <= capsule
		pastIntersected := c.pastBallPos.Dist(r.Pos) <= capsule
		currentIntersects := detected.Dist(r.Pos) <= capsule

		relSpeed := geom.Vec2{X: vel.X - r.Velocity.X, Y: vel.Y - r.Velocity.Y}.Norm()

		if futureIntersects && pastIntersected && !currentIntersects && relSpeed > 2.0 {
			c.ground.Reset(detected.X, detected.Y, c.ground.LastUpdate())
			c.ground.InjectSpeed(r.Velocity.X*2-vel.X, r.Velocity.Y*2-vel.Y)
		}
	}
}

// ReportState resolves the ball's reported position, velocity, and bounce
// flag for the current tick.
func (c *CollisionFilter) ReportState(now int64, cfg config.Config, robots []RobotSnapshot) (pos geom.Vec3, vel geom.Vec3, bouncing bool) {
	if c.offset != nil {
		if c.state == stateStoppedDribbling {
			return geom.Vec3{X: c.offset.StopDribblingPos.X, Y: c.offset.StopDribblingPos.Y}, geom.Vec3{}, false
		}
		r, ok := findRobot(robots, c.offset.RobotIdentifier)
		if ok {
			worldPos := r.WorldOffsetPos(c.offset.BallOffset)
			surfaceVel := r.SurfaceVelocity(c.offset.BallOffset)

			return geom.Vec3{X: worldPos.X, Y: worldPos.Y}, geom.Vec3{X: surfaceVel.X, Y: surfaceVel.Y}, false
		}
		return geom.Vec3{X: c.offset.PushingBallPos.X, Y: c.offset.PushingBallPos.Y}, geom.Vec3{}, false
	}

	p, v := c.ground.State()
	return p, v, p.Z > 0.01
}

func findRobot(robots []RobotSnapshot, id int32) (RobotSnapshot, bool) {
	for _, r := range robots {
		if r.ID == id {
			return r, true
		}
	}
	return RobotSnapshot{}, false
}

func timeSinceSeconds(last, now int64) float64 {
	if now <= last {
		return 0
	}
	return float64(now-last) / 1e9
}
