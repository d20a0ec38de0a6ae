package filterpy

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/fieldtrack/tracker/internal/testutil"
)

func TestNewKalmanFilter_Dimensions(t *testing.T) {
	kf := NewKalmanFilter(6, 2)
	if kf.GetDimX() != 6 {
		t.Errorf("expected dimX=6, got %d", kf.GetDimX())
	}
	if kf.GetDimZ() != 2 {
		t.Errorf("expected dimZ=2, got %d", kf.GetDimZ())
	}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			expected := 0.0
			if i == j {
				expected = 1.0
			}
			testutil.AssertAlmostEqual(t, kf.F.At(i, j), expected, 1e-12, "F identity init")
			testutil.AssertAlmostEqual(t, kf.B.At(i, j), expected, 1e-12, "B identity init")
		}
	}
}

func TestPredict_NonPersistentLeavesCommittedStateUntouched(t *testing.T) {
	kf := NewKalmanFilter(2, 1)
	kf.x.Set(0, 0, 1.0)
	kf.x.Set(1, 0, 2.0)
	kf.F.Set(0, 1, 1.0) // x[0] += x[1]

	kf.Predict(false)

	testutil.AssertAlmostEqual(t, kf.GetXPrior().At(0, 0), 3.0, 1e-12, "xPrior updated")
	testutil.AssertAlmostEqual(t, kf.GetX().At(0, 0), 1.0, 1e-12, "committed x untouched")
}

func TestPredict_PersistentCommitsState(t *testing.T) {
	kf := NewKalmanFilter(2, 1)
	kf.x.Set(0, 0, 1.0)
	kf.x.Set(1, 0, 2.0)
	kf.F.Set(0, 1, 1.0)

	kf.Predict(true)

	testutil.AssertAlmostEqual(t, kf.GetX().At(0, 0), 3.0, 1e-12, "committed x updated")
}

func TestPredict_ControlVectorIsAdded(t *testing.T) {
	kf := NewKalmanFilter(1, 1)
	kf.U.Set(0, 0, 5.0)
	kf.Predict(true)
	testutil.AssertAlmostEqual(t, kf.GetX().At(0, 0), 5.0, 1e-12, "control input applied")
}

func TestUpdate_PullsStateTowardMeasurement(t *testing.T) {
	kf := NewKalmanFilter(1, 1)
	kf.P.Set(0, 0, 1.0)
	kf.Q.Set(0, 0, 0.01)
	kf.R.Set(0, 0, 0.01)

	kf.Predict(true)
	z := mat.NewDense(1, 1, []float64{10.0})
	if err := kf.Update(z, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if kf.GetX().At(0, 0) < 5.0 {
		t.Errorf("expected state to move toward measurement, got %f", kf.GetX().At(0, 0))
	}
}

func TestCovarianceStaysSymmetricPSD(t *testing.T) {
	kf := NewKalmanFilter(4, 2)
	kf.F.Set(0, 2, 1.0)
	kf.F.Set(1, 3, 1.0)
	for i := 0; i < 4; i++ {
		kf.P.Set(i, i, 1.0)
		kf.Q.Set(i, i, 0.1)
	}
	kf.H.Set(0, 0, 1.0)
	kf.H.Set(1, 1, 1.0)
	kf.R.Set(0, 0, 0.05)
	kf.R.Set(1, 1, 0.05)

	for step := 0; step < 20; step++ {
		kf.Predict(true)
		z := mat.NewDense(2, 1, []float64{float64(step) * 0.1, float64(step) * 0.05})
		if err := kf.Update(z, nil, nil); err != nil {
			t.Fatalf("update failed at step %d: %v", step, err)
		}
		if !kf.IsSymmetricPSD(1e-9) {
			t.Fatalf("P is not symmetric PSD at step %d", step)
		}
	}
}

func TestModifyState_PokesCommittedStateDirectly(t *testing.T) {
	kf := NewKalmanFilter(2, 1)
	kf.Predict(false)
	kf.ModifyState(1, 42.0)
	testutil.AssertAlmostEqual(t, kf.GetX().At(1, 0), 42.0, 1e-12, "ModifyState pokes committed x")

	kf.Predict(false)
	testutil.AssertAlmostEqual(t, kf.GetXPrior().At(1, 0), 42.0, 1e-12, "next Predict carries the poked value forward")
}

func TestUpdate_SingularInnovationCovarianceReturnsError(t *testing.T) {
	kf := NewKalmanFilter(1, 1)
	kf.H.Set(0, 0, 0.0)
	kf.R.Set(0, 0, 0.0)
	kf.Predict(true)
	z := mat.NewDense(1, 1, []float64{1.0})
	if err := kf.Update(z, nil, nil); err == nil {
		t.Fatalf("expected singular S to return an error")
	}
}
