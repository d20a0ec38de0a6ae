package world

import (
	"testing"

	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/internal/testutil"
)

func TestFieldTransform_FlipMirrorsPosition(t *testing.T) {
	f := Flip()
	got := f.Apply(geom.Vec2{X: 1, Y: 2})
	if got.X != -1 || got.Y != -2 {
		t.Errorf("expected flipped position (-1,-2), got (%f,%f)", got.X, got.Y)
	}
}

func TestFieldTransform_IdentityLeavesOrientationUnchanged(t *testing.T) {
	id := Identity()
	got := id.ApplyOrientation(1.23)
	testutil.AssertAlmostEqual(t, got, 1.23, 1e-9, "identity orientation")
}

func TestWriter_RawEchoDerivesVelocityFromConsecutiveSamples(t *testing.T) {
	w := NewWriter()
	w.RecordRawDetection(0, geom.Vec2{X: 0, Y: 0}, 0)
	w.RecordRawDetection(0, geom.Vec2{X: 1, Y: 0}, int64(0.1*1e9))

	echoes := w.rawEchoes()
	if len(echoes) != 1 {
		t.Fatalf("expected one camera's echo, got %d", len(echoes))
	}
	testutil.AssertAlmostEqual(t, echoes[0].Velocity.X, 10, 1e-6, "inferred raw-echo velocity")
}

func TestWriter_RawEchoPrunesOldSamples(t *testing.T) {
	w := NewWriter()
	w.RecordRawDetection(0, geom.Vec2{X: 0, Y: 0}, 0)
	w.RecordRawDetection(0, geom.Vec2{X: 1, Y: 0}, int64(0.5*1e9))
	if len(w.rawByCam[0]) != 1 {
		t.Errorf("expected the stale sample pruned, got %d remaining", len(w.rawByCam[0]))
	}
}
