package vision

import (
	"testing"

	"github.com/fieldtrack/tracker/internal/geom"
)

func TestRouter_DropsStaleFrame(t *testing.T) {
	r := NewRouter()
	f1 := Frame{CameraID: 0, SourceTime: 100}
	if _, ok := r.Accept(f1); !ok {
		t.Fatalf("expected first frame accepted")
	}
	f2 := Frame{CameraID: 0, SourceTime: 50}
	if _, ok := r.Accept(f2); ok {
		t.Errorf("expected stale frame (earlier sourceTime) dropped")
	}
}

func TestRouter_CrowdRejectionDropsDenseCluster(t *testing.T) {
	r := NewRouter()
	f := Frame{
		CameraID:   0,
		SourceTime: 100,
		Balls: []BallSighting{
			{Pos: geom.Vec2{X: 0, Y: 0}},
			{Pos: geom.Vec2{X: 0.1, Y: 0}},
			{Pos: geom.Vec2{X: 0.2, Y: 0}},
			{Pos: geom.Vec2{X: 0.3, Y: 0}},
			{Pos: geom.Vec2{X: 0.4, Y: 0}},
		},
	}
	out, ok := r.Accept(f)
	if !ok {
		t.Fatalf("expected frame itself accepted even if all balls are rejected")
	}
	if len(out.Balls) != 0 {
		t.Errorf("expected all 5 clustered ball detections rejected, got %d", len(out.Balls))
	}
}

func TestRouter_AreaOfInterestClipsDetections(t *testing.T) {
	r := NewRouter()
	r.SetAreaOfInterest(AreaOfInterest{Enabled: true, X1: -1, Y1: -1, X2: 1, Y2: 1})
	f := Frame{
		CameraID:   0,
		SourceTime: 1,
		Balls: []BallSighting{
			{Pos: geom.Vec2{X: 0, Y: 0}},
			{Pos: geom.Vec2{X: 5, Y: 5}},
		},
	}
	out, ok := r.Accept(f)
	if !ok || len(out.Balls) != 1 {
		t.Fatalf("expected exactly one ball inside the AOI, got %d (ok=%v)", len(out.Balls), ok)
	}
}
