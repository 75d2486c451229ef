package preprocessing

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
		4, 5,
	})

	s := NewStandardScaler(true, true)
	got, err := s.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform() error = %v", err)
	}

	if s.Mean[0] != 2.5 {
		t.Errorf("Mean[0] = %v, want 2.5", s.Mean[0])
	}
	if want := math.Sqrt(1.25); math.Abs(s.Scale[0]-want) > 1e-12 {
		t.Errorf("Scale[0] = %v, want %v", s.Scale[0], want)
	}
	if s.Scale[1] != 1 {
		t.Errorf("constant column scale = %v, want 1", s.Scale[1])
	}
	for i := 0; i < 4; i++ {
		if got.At(i, 1) != 0 {
			t.Errorf("constant column not centered at row %d: %v", i, got.At(i, 1))
		}
	}

	back, err := s.InverseTransform(got)
	if err != nil {
		t.Fatalf("InverseTransform() error = %v", err)
	}
	if !mat.EqualApprox(back, X, 1e-12) {
		t.Errorf("InverseTransform(Transform(X)) != X")
	}

	if _, err := s.Transform(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("expected dimension error")
	}
}

func TestStandardScalerOptions(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{2, 6})

	tests := []struct {
		name              string
		withMean, withStd bool
		want              []float64
	}{
		{"both", true, true, []float64{-1, 1}},
		{"mean only", true, false, []float64{-2, 2}},
		{"std only", false, true, []float64{1, 3}},
		{"neither", false, false, []float64{2, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStandardScaler(tt.withMean, tt.withStd).FitTransform(X)
			if err != nil {
				t.Fatalf("FitTransform() error = %v", err)
			}
			if !mat.EqualApprox(got, mat.NewDense(2, 1, tt.want), 1e-12) {
				t.Errorf("got %v, want %v", mat.Col(nil, 0, got), tt.want)
			}
		})
	}
}

func TestStandardScalerFrom(t *testing.T) {
	s, err := StandardScalerFrom([]float64{1}, []float64{2})
	if err != nil {
		t.Fatalf("StandardScalerFrom() error = %v", err)
	}
	got, err := s.Transform(mat.NewDense(1, 1, []float64{5}))
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if got.At(0, 0) != 2 {
		t.Errorf("Transform() = %v, want 2", got.At(0, 0))
	}

	if _, err := StandardScalerFrom([]float64{1}, []float64{0}); err == nil {
		t.Error("expected error for zero scale")
	}
	if _, err := NewStandardScaler(true, true).Transform(mat.NewDense(1, 1, nil)); err == nil {
		t.Error("expected not fitted error")
	}
}
