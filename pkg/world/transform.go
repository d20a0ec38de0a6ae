// Package world implements the field transform and the world-state egress
// writer: the final step that turns live ball/robot trackers into the
// record external consumers query.
package world

import "github.com/fieldtrack/tracker/internal/geom"

// FieldTransform applies a 2x2 linear map plus translation to every
// reported position and orientation, used to align the core's internal
// coordinate frame with an external consumer's convention (e.g. a flipped
// half).
type FieldTransform struct {
	M00, M01 float64
	M10, M11 float64
	Tx, Ty   float64
}

// Identity returns the no-op transform.
func Identity() FieldTransform {
	return FieldTransform{M00: 1, M11: 1}
}

// Flip returns the transform that mirrors both axes (the common
// virtual-field toggle).
func Flip() FieldTransform {
	return FieldTransform{M00: -1, M11: -1}
}

// Apply maps a position through the transform.
func (t FieldTransform) Apply(p geom.Vec2) geom.Vec2 {
	return geom.Vec2{
		X: t.M00*p.X + t.M01*p.Y + t.Tx,
		Y: t.M10*p.X + t.M11*p.Y + t.Ty,
	}
}

// ApplyVec3 maps a 3D position, leaving height untouched.
func (t FieldTransform) ApplyVec3(p geom.Vec3) geom.Vec3 {
	planar := t.Apply(p.Planar())
	return geom.Vec3{X: planar.X, Y: planar.Y, Z: p.Z}
}

// ApplyOrientation rotates an orientation by the transform's implied
// rotation angle; a pure flip (determinant -1) mirrors orientation about
// the x-axis instead.
func (t FieldTransform) ApplyOrientation(phi float64) float64 {
	det := t.M00*t.M11 - t.M01*t.M10
	if det < 0 {
		return geom.WrapAngle(-phi)
	}
	u := geom.FromPolar(1, phi)
	rotated := geom.Vec2{X: t.M00*u.X + t.M01*u.Y, Y: t.M10*u.X + t.M11*u.Y}
	return rotated.Angle()
}
