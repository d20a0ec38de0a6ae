// Package calib holds per-camera geometric calibration. The store is read
// by every filter during a tick and written only by the geometry ingress
// path between ticks, never mutated mid-tick.
package calib

import (
	"fmt"
	"sync"

	"github.com/fieldtrack/tracker/internal/geom"
)

// Calibration is one camera's known geometry.
type Calibration struct {
	CameraID    int32
	Position    geom.Vec3
	FocalLength float64
	Sender      string
}

// Store is a copyable-value map keyed by camera id. The zero value is
// ready to use.
type Store struct {
	mu   sync.RWMutex
	data map[int32]Calibration
}

// NewStore creates an empty calibration store.
func NewStore() *Store {
	return &Store{data: make(map[int32]Calibration)}
}

// Upsert installs or replaces a camera's calibration. If a different
// sender previously reported this camera id, it returns a warning string
// (duplicate vision source: warn once, accept regardless); the caller is
// expected to route it to the warning channel.
func (s *Store) Upsert(c Calibration) (warning string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[int32]Calibration)
	}
	if existing, ok := s.data[c.CameraID]; ok && existing.Sender != "" && existing.Sender != c.Sender {
		warning = fmt.Sprintf("camera %d: conflicting senders %q and %q", c.CameraID, existing.Sender, c.Sender)
	}
	s.data[c.CameraID] = c
	return warning
}

// Get returns the calibration for a camera and whether it is known.
func (s *Store) Get(cameraID int32) (Calibration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data[cameraID]
	return c, ok
}

// Unproject inverts the pinhole model at the given assumed height h,
// placing a 2D field-plane detection back at its true 3D position given
// the camera is at Calibration.Position. This is the standard SSL-vision
// shadow projection: a line from the camera through the detected ground
// point, intersected with the plane z=h.
func (c Calibration) Unproject(x, y, h float64) geom.Vec3 {
	// The detection (x,y) is itself already the ground-plane projection
	// reported by vision at an assumed ball height of 0; to re-project it
	// at height h we scale the camera-to-detection ray.
	if c.Position.Z == 0 {
		return geom.Vec3{X: x, Y: y, Z: h}
	}
	scale := (c.Position.Z - h) / c.Position.Z
	ux := c.Position.X + (x-c.Position.X)*scale
	uy := c.Position.Y + (y-c.Position.Y)*scale
	return geom.Vec3{X: ux, Y: uy, Z: h}
}
