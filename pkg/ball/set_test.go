package ball

import (
	"testing"

	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/pkg/calib"
	"github.com/fieldtrack/tracker/pkg/config"
)

func TestFilterCrowded_RejectsDenseCluster(t *testing.T) {
	detections := []geom.Vec2{
		{X: 0, Y: 0},
		{X: 0.1, Y: 0},
		{X: 0.2, Y: 0},
		{X: 0.3, Y: 0},
		{X: 0.4, Y: 0},
	}
	kept := FilterCrowded(detections)
	if len(kept) != 0 {
		t.Errorf("expected all 5 clustered detections rejected, kept %d", len(kept))
	}
}

func TestFilterCrowded_KeepsIsolatedDetection(t *testing.T) {
	detections := []geom.Vec2{{X: 0, Y: 0}, {X: 10, Y: 10}}
	kept := FilterCrowded(detections)
	if len(kept) != 2 {
		t.Errorf("expected both isolated detections kept, got %d", len(kept))
	}
}

func TestBallTrackerSet_BestRequiresMinimumFrameCount(t *testing.T) {
	s := NewBallTrackerSet()
	if s.Best() != nil {
		t.Fatalf("expected no best tracker in an empty set")
	}
	s.trackers = []*BallTracker{newTestTracker(100, 2)}
	if s.Best() != nil {
		t.Errorf("expected a tracker with fewer than 3 frames to be skipped")
	}
}

func TestBallTrackerSet_BestPrefersOldestInitTime(t *testing.T) {
	s := NewBallTrackerSet()
	older := newTestTracker(100, 5)
	newer := newTestTracker(200, 5)
	s.trackers = []*BallTracker{newer, older}

	best := s.Best()
	if best != older {
		t.Errorf("expected the oldest tracker to win arbitration")
	}
}

func TestBallTrackerSet_ApplyVisionBatchPrefersClosestPairing(t *testing.T) {
	cfg := config.Default()
	s := NewBallTrackerSet()
	s.ApplyVisionBatch(cfg, []Detection{{Sample: ChipDetection{BallPos: geom.Vec2{X: 0, Y: 0}, Time: 0}}}, nil, calibZero())
	s.ApplyVisionBatch(cfg, []Detection{{Sample: ChipDetection{BallPos: geom.Vec2{X: 5, Y: 5}, Time: 0}}}, nil, calibZero())
	if len(s.trackers) != 2 {
		t.Fatalf("expected two independent trackers seeded, got %d", len(s.trackers))
	}

	// One frame reports a detection near each tracker; each tracker must
	// bind to its own nearby detection rather than both racing for
	// whichever arrived first in the slice.
	dets := []Detection{
		{Sample: ChipDetection{BallPos: geom.Vec2{X: 5.05, Y: 5}, Time: int64(1e9 / 60)}},
		{Sample: ChipDetection{BallPos: geom.Vec2{X: 0.05, Y: 0}, Time: int64(1e9 / 60)}},
	}
	s.ApplyVisionBatch(cfg, dets, nil, calibZero())
	if len(s.trackers) != 2 {
		t.Fatalf("expected no new tracker created when both detections matched, got %d", len(s.trackers))
	}
	for _, tr := range s.trackers {
		if tr.FrameCount() != 2 {
			t.Errorf("expected both trackers to have consumed their nearby detection, got frameCount=%d", tr.FrameCount())
		}
	}
}

func calibZero() calib.Calibration { return calib.Calibration{} }

func newTestTracker(initTime int64, frameCount int) *BallTracker {
	b := &BallTracker{
		initTime:   initTime,
		frameCount: frameCount,
		confidence: 1.0,
	}
	b.collision = NewCollisionFilter(config.Default().Ball, 0, 0, initTime)
	b.fly = NewFlyFilter()
	return b
}
