package ball

import (
	"gonum.org/v1/gonum/mat"

	"github.com/fieldtrack/tracker/internal/assoc"
	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/internal/scipy"
	"github.com/fieldtrack/tracker/pkg/calib"
	"github.com/fieldtrack/tracker/pkg/config"
)

// BallTrackerSet arbitrates across candidate BallTrackers.
type BallTrackerSet struct {
	trackers []*BallTracker
	active   *BallTracker
}

// NewBallTrackerSet creates an empty set.
func NewBallTrackerSet() *BallTrackerSet { return &BallTrackerSet{} }

// Detection is one vision-reported ball sighting routed to the set for a
// single tick.
type Detection struct {
	Sample   ChipDetection
	CameraID int32
}

// ApplyVisionBatch routes every detection reported in one frame to its best
// tracker in a single pass, instead of resolving each detection against
// trackers one at a time. Multiple ball blobs can appear in one camera
// frame (a chip kick's in-flight ball plus its own shadow/motion blur, or
// transient noise); picking matches in arrival order can bind a later
// tracker's rightful detection to an earlier, merely-plausible one.
// Acceptance still runs through each tracker's own ChooseDetection (flight-
// aware for trackers mid-reconstruction); OptimalMatch then solves the
// bipartite assignment over the accepted pairings so two trackers never
// swap each other's rightful detection the way a first-match-wins pass
// over the same frame can.
func (s *BallTrackerSet) ApplyVisionBatch(cfg config.Config, dets []Detection, robots []RobotSnapshot, cam calib.Calibration) {
	if len(dets) == 0 {
		return
	}
	if len(s.trackers) == 0 {
		for _, d := range dets {
			s.trackers = append(s.trackers, NewBallTracker(cfg, d.Sample.BallPos.X, d.Sample.BallPos.Y, d.Sample.Time, d.CameraID, cam))
		}
		return
	}

	const sentinel = 1e6
	trackerPos := mat.NewDense(len(s.trackers), 2, nil)
	for ti, t := range s.trackers {
		gpos, _ := t.collision.Ground().State()
		trackerPos.Set(ti, 0, gpos.X)
		trackerPos.Set(ti, 1, gpos.Y)
	}
	detPos := mat.NewDense(len(dets), 2, nil)
	for di, d := range dets {
		detPos.Set(di, 0, d.Sample.BallPos.X)
		detPos.Set(di, 1, d.Sample.BallPos.Y)
	}
	dist := scipy.Cdist(trackerPos, detPos, "euclidean")
	for ti, t := range s.trackers {
		flight := t.currentFlight()
		for di, d := range dets {
			if !t.ChooseDetection(d.Sample.BallPos.X, d.Sample.BallPos.Y, d.Sample.Time, cfg) {
				dist.Set(ti, di, sentinel)
				continue
			}
			if flight != nil {
				dist.Set(ti, di, t.CameraDistanceHint(flight, d.Sample.BallPos))
			}
		}
	}

	rowIdx, colIdx, _ := assoc.OptimalMatch(dist, sentinel-1)
	matchedDet := make(map[int]bool, len(colIdx))
	for k, ti := range rowIdx {
		di := colIdx[k]
		matchedDet[di] = true
		s.trackers[ti].ApplyVisionFrame(dets[di].Sample, robots, cfg, dets[di].CameraID)
	}

	for di, d := range dets {
		if !matchedDet[di] {
			s.trackers = append(s.trackers, NewBallTracker(cfg, d.Sample.BallPos.X, d.Sample.BallPos.Y, d.Sample.Time, d.CameraID, cam))
		}
	}
}

// ApplyEmptyTick advances every tracker with no new detection and prunes
// stale ones per their invalidation timeouts.
func (s *BallTrackerSet) ApplyEmptyTick(dt float64, t int64, robots []RobotSnapshot, cfg config.Config) {
	multipleVisible := len(s.trackers) > 1
	kept := s.trackers[:0]
	for _, tr := range s.trackers {
		tr.ApplyEmptyTick(dt, t, robots, cfg)
		if !tr.IsStale(t, multipleVisible) {
			kept = append(kept, tr)
		} else if tr == s.active {
			s.active = nil
		}
	}
	s.trackers = kept
}

// Best selects the single tracker to report, prioritizing: frame counter
// >= 3, oldest initTime, confidence tiebreak with active hysteresis.
func (s *BallTrackerSet) Best() *BallTracker {
	var best *BallTracker
	for _, t := range s.trackers {
		if t.FrameCount() < 3 {
			continue
		}
		if best == nil {
			best = t
			continue
		}
		if t.InitTime() != best.InitTime() {
			if t.InitTime() < best.InitTime() {
				best = t
			}
			continue
		}
		tConf := t.Confidence(t == s.active)
		bConf := best.Confidence(best == s.active)
		if tConf > bConf {
			best = t
		}
	}
	s.active = best
	return best
}

// Trackers exposes the live candidate set (used by the world writer for
// diagnostics and by tests).
func (s *BallTrackerSet) Trackers() []*BallTracker { return s.trackers }

// FilterCrowded drops any ball detection with more than 3 other ball
// detections within 0.5 m of it in the same vision frame ("people on the
// field").
func FilterCrowded(detections []geom.Vec2) []geom.Vec2 {
	kept := make([]geom.Vec2, 0, len(detections))
	for i, d := range detections {
		count := 0
		for j, o := range detections {
			if i == j {
				continue
			}
			if d.Dist(o) <= 0.5 {
				count++
			}
		}
		if count <= 3 {
			kept = append(kept, d)
		}
	}
	return kept
}
