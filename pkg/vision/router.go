package vision

import "github.com/fieldtrack/tracker/internal/geom"

// AreaOfInterest clips accepted detections to a world-space rectangle.
type AreaOfInterest struct {
	Enabled    bool
	X1, Y1, X2, Y2 float64
}

func (a AreaOfInterest) contains(p geom.Vec2) bool {
	if !a.Enabled {
		return true
	}
	return p.X >= a.X1 && p.X <= a.X2 && p.Y >= a.Y1 && p.Y <= a.Y2
}

// Router enforces per-camera frame ordering and crowd rejection before
// frames reach the ball/robot trackers.
type Router struct {
	lastSourceTime map[int32]int64
	aoi            AreaOfInterest
}

// NewRouter creates a router with no area-of-interest restriction.
func NewRouter() *Router {
	return &Router{lastSourceTime: make(map[int32]int64)}
}

// SetAreaOfInterest installs the active clipping rectangle.
func (r *Router) SetAreaOfInterest(aoi AreaOfInterest) { r.aoi = aoi }

// Accept applies staleness rejection, AOI clipping, and crowd rejection to
// a converted frame. Returns the filtered frame and whether it should be
// processed at all.
func (r *Router) Accept(f Frame) (Frame, bool) {
	last, seen := r.lastSourceTime[f.CameraID]
	if seen && f.SourceTime <= last {
		return Frame{}, false
	}
	r.lastSourceTime[f.CameraID] = f.SourceTime

	positions := make([]geom.Vec2, 0, len(f.Balls))
	for _, b := range f.Balls {
		if r.aoi.contains(b.Pos) {
			positions = append(positions, b.Pos)
		}
	}
	keptPositions := filterCrowdedPositions(positions)
	keptSet := make(map[geom.Vec2]bool, len(keptPositions))
	for _, p := range keptPositions {
		keptSet[p] = true
	}

	filtered := f
	filtered.Balls = nil
	for _, b := range f.Balls {
		if keptSet[b.Pos] {
			filtered.Balls = append(filtered.Balls, b)
		}
	}

	filtered.Robots = nil
	for _, rb := range f.Robots {
		if r.aoi.contains(rb.Pos) {
			filtered.Robots = append(filtered.Robots, rb)
		}
	}

	return filtered, true
}

// filterCrowdedPositions drops any position with more than 3 others within
// 0.5m in the same frame. Duplicated here as a geom.Vec2 utility rather
// than importing pkg/ball, since vision ingress must not depend on the
// ball subsystem it feeds.
func filterCrowdedPositions(positions []geom.Vec2) []geom.Vec2 {
	kept := make([]geom.Vec2, 0, len(positions))
	for i, p := range positions {
		count := 0
		for j, o := range positions {
			if i == j {
				continue
			}
			if p.Dist(o) <= 0.5 {
				count++
			}
		}
		if count <= 3 {
			kept = append(kept, p)
		}
	}
	return kept
}
