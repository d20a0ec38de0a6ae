package ball

import (
	"math"
	"testing"
	"time"

	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/internal/testutil"
	"github.com/fieldtrack/tracker/pkg/config"
)

func TestCollisionFilter_DribbleBindingFollowsRobotSurfaceVelocity(t *testing.T) {
	cfg := config.Default()
	c := NewCollisionFilter(cfg.Ball, 0.2, 0, 0)

	robot := RobotSnapshot{
		ID:          7,
		Pos:         geom.Vec2{X: 0, Y: 0},
		Orientation: 0,
		Velocity:    geom.Vec2{X: 1, Y: 0},
	}
	c.enterDribbling(robot, geom.Vec2{X: 0.12, Y: 0}, 0, false)
	if c.offset == nil {
		t.Fatalf("expected a bound offset after entering dribbling")
	}

	robot.Pos = geom.Vec2{X: 1, Y: 0}
	robot.AngularVelocity = math.Pi / 2
	pos, vel, _ := c.ReportState(0, cfg, []RobotSnapshot{robot})

	wantPos := robot.WorldOffsetPos(c.offset.BallOffset)
	testutil.AssertAlmostEqual(t, pos.X, wantPos.X, 1e-9, "reported position x")
	testutil.AssertAlmostEqual(t, pos.Y, wantPos.Y, 1e-9, "reported position y")

	wantVel := robot.SurfaceVelocity(c.offset.BallOffset)
	testutil.AssertAlmostEqual(t, vel.X, wantVel.X, 1e-9, "reported velocity x (omega x r term)")
	testutil.AssertAlmostEqual(t, vel.Y, wantVel.Y, 1e-9, "reported velocity y (omega x r term)")
}

func TestCollisionFilter_VisionFrameReleasesOffsetOnIntersectingAcceptance(t *testing.T) {
	cfg := config.Default()
	c := NewCollisionFilter(cfg.Ball, 0, 0, 0)
	c.offset = &BallOffsetInfo{RobotIdentifier: 3, IsIntersecting: true}

	robot := RobotSnapshot{ID: 3, Pos: geom.Vec2{X: 0, Y: 0}, Velocity: geom.Vec2{X: 2, Y: 0}}
	c.ProcessVisionFrame(0.5, 0, 0, []RobotSnapshot{robot}, cfg)

	if c.offset != nil {
		t.Fatalf("expected offset to be cleared once an intersecting detection lands")
	}
	_, vel := c.ground.State()
	testutil.AssertAlmostEqual(t, vel.X, 2, 1e-6, "released velocity takes the robot's surface speed")
}

func TestCollisionFilter_ShadowProximityRaisesObservationStdDev(t *testing.T) {
	cfg := config.Default()
	c := NewCollisionFilter(cfg.Ball, 5, 5, 0)

	near := RobotSnapshot{ID: 1, Pos: geom.Vec2{X: 0, Y: 0}}
	c.ProcessVisionFrame(0.05, 0, 1, []RobotSnapshot{near}, cfg)
	testutil.AssertAlmostEqual(t, c.ground.obsStdDev, 0.02, 1e-12, "obsStdDev raised near a robot shadow")

	far := RobotSnapshot{ID: 1, Pos: geom.Vec2{X: 10, Y: 10}}
	c.ProcessVisionFrame(0.05, 0, 2, []RobotSnapshot{far}, cfg)
	testutil.AssertAlmostEqual(t, c.ground.obsStdDev, 0.003, 1e-12, "obsStdDev back to baseline away from any robot")
}

func TestCollisionFilter_StoppedDribblingFreezesThenReleasesAfterTimeout(t *testing.T) {
	cfg := config.Default()
	c := NewCollisionFilter(cfg.Ball, 0, 0, 0)
	c.offset = &BallOffsetInfo{RobotIdentifier: 5, BallOffset: geom.Vec2{X: 0, Y: 0}, DribblerActive: true}
	c.state = stateDribblingForced

	robot := RobotSnapshot{ID: 5, Pos: geom.Vec2{X: 1, Y: 1}, DribblerActive: false}
	const t0 int64 = 1_000_000_000
	c.ProcessEmptyTick(0.01, t0, []RobotSnapshot{robot}, cfg)

	if c.state != stateStoppedDribbling {
		t.Fatalf("expected stateStoppedDribbling once the dribbler goes inactive, got %v", c.state)
	}
	if c.offset == nil {
		t.Fatalf("expected the offset binding to persist while frozen")
	}
	testutil.AssertAlmostEqual(t, c.offset.StopDribblingPos.X, 1, 1e-9, "frozen x")
	testutil.AssertAlmostEqual(t, c.offset.StopDribblingPos.Y, 1, 1e-9, "frozen y")

	pos, vel, _ := c.ReportState(t0, cfg, []RobotSnapshot{robot})
	testutil.AssertAlmostEqual(t, pos.X, 1, 1e-9, "reported frozen position x")
	testutil.AssertAlmostEqual(t, pos.Y, 1, 1e-9, "reported frozen position y")
	testutil.AssertAlmostEqual(t, vel.X, 0, 1e-12, "reported velocity zeroed while frozen")
	testutil.AssertAlmostEqual(t, vel.Y, 0, 1e-12, "reported velocity zeroed while frozen")

	// Still within ResetSpeedTime (150ms): the binding must hold.
	c.ProcessEmptyTick(0.01, t0+int64(100*time.Millisecond), []RobotSnapshot{robot}, cfg)
	if c.offset == nil || c.state != stateStoppedDribbling {
		t.Fatalf("expected the freeze to persist before ResetSpeedTime elapses")
	}

	// Past ResetSpeedTime: release back to free, ground filter reset to the
	// frozen position with zero velocity.
	c.ProcessEmptyTick(0.01, t0+int64(200*time.Millisecond), []RobotSnapshot{robot}, cfg)
	if c.offset != nil {
		t.Fatalf("expected the offset to be released once ResetSpeedTime elapses")
	}
	if c.state != stateFree {
		t.Errorf("expected stateFree after release, got %v", c.state)
	}
	gpos, gvel := c.ground.State()
	testutil.AssertAlmostEqual(t, gpos.X, 1, 1e-9, "ground filter reset to frozen x")
	testutil.AssertAlmostEqual(t, gpos.Y, 1, 1e-9, "ground filter reset to frozen y")
	testutil.AssertAlmostEqual(t, gvel.X, 0, 1e-12, "ground filter velocity zeroed on release")
	testutil.AssertAlmostEqual(t, gvel.Y, 0, 1e-12, "ground filter velocity zeroed on release")
}

func TestCollisionFilter_VisionReacquisitionDuringStoppedDribblingReleasesAtRest(t *testing.T) {
	cfg := config.Default()
	c := NewCollisionFilter(cfg.Ball, 0, 0, 0)
	c.offset = &BallOffsetInfo{RobotIdentifier: 9, BallOffset: geom.Vec2{X: 0, Y: 0}, DribblerActive: true}
	c.state = stateStoppedDribbling
	c.offset.StopDribblingPos = geom.Vec2{X: 2, Y: 0}

	robot := RobotSnapshot{ID: 9, Pos: geom.Vec2{X: 2, Y: 0}, Velocity: geom.Vec2{X: 3, Y: 0}, DribblerActive: false}
	c.ProcessVisionFrame(2.0, 0, 0, []RobotSnapshot{robot}, cfg)

	if c.offset != nil {
		t.Fatalf("expected the binding to clear once vision reacquires the ball")
	}
	if c.state != stateFree {
		t.Errorf("expected stateFree after reacquisition, got %v", c.state)
	}
	_, vel := c.ground.State()
	testutil.AssertAlmostEqual(t, vel.X, 0, 1e-9, "a ball that stopped dribbling releases at rest, not at the robot's speed")
}

func TestCollisionFilter_VolleyResetAvoidsAveragingWithIncomingRobotVelocity(t *testing.T) {
	cfg := config.Default()
	c := NewCollisionFilter(cfg.Ball, 0, 0, 0)
	c.ground.SetSpeed(-1, 0)
	c.pastBallPos = geom.Vec2{X: 0.05, Y: 0}

	robot := RobotSnapshot{ID: 1, Pos: geom.Vec2{X: 0, Y: 0}, Velocity: geom.Vec2{X: 3, Y: 0}}
	c.checkVolleyReset(geom.Vec2{X: 0.3, Y: 0}, []RobotSnapshot{robot}, cfg)

	_, vel := c.ground.State()
	if vel.X <= 0 {
		t.Errorf("expected volley reset to flip outgoing velocity sign, got %f", vel.X)
	}
}
