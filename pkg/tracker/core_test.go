package tracker

import (
	"testing"

	"github.com/fieldtrack/tracker/pkg/config"
	"github.com/fieldtrack/tracker/pkg/robot"
	"github.com/fieldtrack/tracker/pkg/vision"
)

func TestCore_RollingBallProducesForwardVelocity(t *testing.T) {
	c := New(config.Default())
	c.QueueGeometry(GeometryUpdate{CameraID: 0, PositionZ: 4000, Sender: "cam0"})

	// World positions x=(0, 0.04, 0.075, 0.105), y=0; wire convention is
	// position=(-y/1000, x/1000), so world x comes from wire Y negated.
	worldX := []float64{0, 0.04, 0.075, 0.105}
	times := []float64{0, 0.016, 0.033, 0.050}

	for i, wx := range worldX {
		raw := vision.RawFrame{
			CameraID: 0,
			TCapture: times[i],
			TSent:    times[i],
			Balls:    []vision.RawBallDetection{{X: 0, Y: -wx * 1000, Area: 100}},
		}
		if err := c.QueuePacket(raw, int64(times[i]*1e9)); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	state := c.WorldState(int64(times[len(times)-1] * 1e9))
	if state.Ball.Vel.X <= 0 {
		t.Errorf("expected positive forward ball velocity, got %f", state.Ball.Vel.X)
	}
	if state.Ball.IsBouncing {
		t.Errorf("expected a rolling ball not to report bouncing")
	}
}

func TestCore_UnknownCameraDropsBallButKeepsRobots(t *testing.T) {
	c := New(config.Default())
	raw := vision.RawFrame{
		CameraID: 9,
		TCapture: 0,
		TSent:    0,
		Balls:    []vision.RawBallDetection{{X: 0, Y: 0, Area: 10}},
		Robots:   []vision.RawRobotDetection{{Team: robot.TeamBlue, ID: 1, X: 0, Y: 0, Orientation: 0}},
	}
	if err := c.QueuePacket(raw, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.balls.Trackers()) != 0 {
		t.Errorf("expected no ball tracker created from an uncalibrated camera")
	}
	if len(c.robots.Identities()) != 1 {
		t.Errorf("expected robot detection still accepted without calibration")
	}
}

func TestCore_ResetClearsAllTrackers(t *testing.T) {
	c := New(config.Default())
	c.QueueGeometry(GeometryUpdate{CameraID: 0, PositionZ: 4000, Sender: "cam0"})
	raw := vision.RawFrame{
		CameraID: 0,
		Balls:    []vision.RawBallDetection{{X: 0, Y: 0, Area: 10}},
		Robots:   []vision.RawRobotDetection{{Team: robot.TeamBlue, ID: 2, X: 0, Y: 0}},
	}
	c.QueuePacket(raw, 0)
	c.Reset()
	if len(c.balls.Trackers()) != 0 || len(c.robots.Identities()) != 0 {
		t.Errorf("expected reset to drop all trackers")
	}
}

func TestCore_CrowdedBallsProduceNoTracker(t *testing.T) {
	c := New(config.Default())
	c.QueueGeometry(GeometryUpdate{CameraID: 0, PositionZ: 4000, Sender: "cam0"})
	var dets []vision.RawBallDetection
	for i := 0; i < 5; i++ {
		dets = append(dets, vision.RawBallDetection{X: float64(i) * 100, Y: 0, Area: 10})
	}
	raw := vision.RawFrame{CameraID: 0, Balls: dets}
	if err := c.QueuePacket(raw, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.balls.Trackers()) != 0 {
		t.Errorf("expected crowd rejection to leave no ball tracker, got %d", len(c.balls.Trackers()))
	}
}
