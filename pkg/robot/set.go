package robot

import (
	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/pkg/config"
)

// Team identifies which strategy side a robot belongs to. An earlier
// StrategyType mapping collapsed every case to BLUE, a probable bug; this
// type restores the intended {BLUE,YELLOW,AUTOREF} mapping.
type Team int

const (
	TeamBlue Team = iota
	TeamYellow
	TeamAutoref
)

// MapStrategyType maps a strategy-type name to a Team, using the intended
// mapping rather than the all-BLUE collapse described above.
func MapStrategyType(name string) Team {
	switch name {
	case "YELLOW":
		return TeamYellow
	case "AUTOREF":
		return TeamAutoref
	default:
		return TeamBlue
	}
}

// Identity is a (team,id) pair.
type Identity struct {
	Team Team
	ID   int32
}

const (
	staleWhenMultiple = 0.2 // seconds, when more than one filter shares an identity
	staleWhenLast     = 1.0 // seconds, when this is the only filter for an identity
	identityRadius    = 0.5 // meters, identity discipline radius
)

// RobotTrackerSet arbitrates across candidate RobotFilters per identity,
// implementing identity discipline and invalidation.
type RobotTrackerSet struct {
	filters map[Identity][]*RobotFilter
}

// NewRobotTrackerSet creates an empty set.
func NewRobotTrackerSet() *RobotTrackerSet {
	return &RobotTrackerSet{filters: make(map[Identity][]*RobotFilter)}
}

// ApplyVisionFrame routes a detection to the nearest existing filter for
// this identity within identityRadius, or creates a new one: a vision
// frame may only create a new filter when no existing filter with matching
// (team,id) is within 0.5 m.
func (s *RobotTrackerSet) ApplyVisionFrame(id Identity, x, y, phi float64, t int64, cameraID int32, isPrimary bool, cfg config.Config) error {
	pos := geom.Vec2{X: x, Y: y}
	existing := s.filters[id]

	var nearest *RobotFilter
	var nearestDist float64
	for _, f := range existing {
		d := f.Position().Dist(pos)
		if nearest == nil || d < nearestDist {
			nearest = f
			nearestDist = d
		}
	}

	if nearest != nil && nearestDist <= identityRadius {
		return nearest.ApplyVisionFrame(x, y, phi, t, cameraID, isPrimary, cfg)
	}

	s.filters[id] = append(existing, NewRobotFilter(x, y, phi, t, cameraID))
	return nil
}

// Prune drops stale filters per the invalidation rule above.
func (s *RobotTrackerSet) Prune(now int64) {
	for id, fs := range s.filters {
		multiple := len(fs) > 1
		kept := fs[:0]
		for _, f := range fs {
			since := timeSinceSeconds(f.LastVisionAt(), now)
			threshold := staleWhenLast
			if multiple {
				threshold = staleWhenMultiple
			}
			if since <= threshold {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(s.filters, id)
		} else {
			s.filters[id] = kept
		}
	}
}

// Best returns the filter with the most observed frames for an identity,
// preferring the one last seen on preferredCamera on a tie.
func (s *RobotTrackerSet) Best(id Identity, preferredCamera int32) *RobotFilter {
	var best *RobotFilter
	for _, f := range s.filters[id] {
		if best == nil {
			best = f
			continue
		}
		if f.FrameCount() > best.FrameCount() {
			best = f
			continue
		}
		if f.FrameCount() == best.FrameCount() && f.cameraID == preferredCamera {
			best = f
		}
	}
	return best
}

// Identities returns every identity with at least one live filter.
func (s *RobotTrackerSet) Identities() []Identity {
	ids := make([]Identity, 0, len(s.filters))
	for id := range s.filters {
		ids = append(ids, id)
	}
	return ids
}

// ApplyCommand delivers an actuator command to every filter tracking this
// identity (it affects future-prediction for all camera copies equally).
func (s *RobotTrackerSet) ApplyCommand(id Identity, cmd Command) {
	for _, f := range s.filters[id] {
		f.ApplyCommand(cmd)
	}
}
