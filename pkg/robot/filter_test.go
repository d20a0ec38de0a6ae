package robot

import (
	"math"
	"testing"

	"github.com/fieldtrack/tracker/internal/testutil"
	"github.com/fieldtrack/tracker/pkg/config"
)

func TestRobotFilter_PredictToIntegratesCommandedVelocity(t *testing.T) {
	cfg := config.Default()
	f := NewRobotFilter(0, 0, 0, 0, 0)
	f.ApplyCommand(Command{Time: 0, VF: 1.0, VS: 0, Omega: 0})

	pos, phi, vel, _ := f.PredictTo(int64(0.1*1e9), cfg)
	if pos.X <= 0 {
		t.Errorf("expected forward motion along x, got %f", pos.X)
	}
	testutil.AssertAlmostEqual(t, phi, 0, 1e-9, "orientation with zero omega")
	if vel.X <= 0 {
		t.Errorf("expected positive x velocity after integrating the command, got %f", vel.X)
	}
}

func TestRobotFilter_PredictToDoesNotMutateCommittedState(t *testing.T) {
	cfg := config.Default()
	f := NewRobotFilter(0, 0, 0, 0, 0)
	f.ApplyCommand(Command{Time: 0, VF: 2.0})

	before := f.Position()
	f.PredictTo(int64(0.5*1e9), cfg)
	after := f.Position()

	if before != after {
		t.Errorf("expected PredictTo to leave committed past state untouched, got %v -> %v", before, after)
	}
}

func TestRobotFilter_AccelerationIsClamped(t *testing.T) {
	cfg := config.Default()
	f := NewRobotFilter(0, 0, 0, 0, 0)
	f.ApplyCommand(Command{Time: 0, VF: 1000.0})

	dt := 0.01
	_, _, vel, _ := f.PredictTo(int64(dt*1e9), cfg)
	maxPossible := cfg.MaxLinearAccel * dt
	if vel.Norm() > maxPossible+1e-6 {
		t.Errorf("expected velocity bounded by clamped acceleration, got %f > %f", vel.Norm(), maxPossible)
	}
}

func TestRobotFilter_OrientationWrapsToPrincipalRange(t *testing.T) {
	cfg := config.Default()
	f := NewRobotFilter(0, 0, 3.0, 0, 0)
	f.ApplyCommand(Command{Time: 0, Omega: 2.0})

	_, phi, _, _ := f.PredictTo(int64(1*1e9), cfg)
	if phi > math.Pi || phi <= -math.Pi {
		t.Errorf("expected orientation wrapped to (-pi,pi], got %f", phi)
	}
}

func TestRobotFilter_ApplyVisionFrameFusesMeasurement(t *testing.T) {
	cfg := config.Default()
	f := NewRobotFilter(0, 0, 0, 0, 0)
	if err := f.ApplyVisionFrame(1, 0, 0, int64(1e9/60), 0, true, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.FrameCount() != 2 {
		t.Errorf("expected frame count incremented, got %d", f.FrameCount())
	}
	pos := f.Position()
	if pos.X <= 0 {
		t.Errorf("expected position pulled toward the new measurement, got %f", pos.X)
	}
}
