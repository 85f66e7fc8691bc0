package metrics

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func vec(v ...float64) *mat.VecDense { return mat.NewVecDense(len(v), v) }

func col(v ...float64) *mat.Dense { return mat.NewDense(len(v), 1, v) }

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name  string
		yTrue *mat.VecDense
		yPred *mat.VecDense
		want  float64
	}{
		{"all correct", vec(0, 1, 2, 1), vec(0, 1, 2, 1), 1},
		{"all wrong", vec(0, 0, 1), vec(1, 1, 0), 0},
		{"multiclass partial", vec(0, 1, 2, 2, 1), vec(0, 2, 2, 1, 1), 0.6},
		{"single sample", vec(3), vec(3), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Accuracy(tt.yTrue, tt.yPred)
			if err != nil {
				t.Fatalf("Accuracy: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Accuracy = %v, want %v", got, tt.want)
			}

			ce, err := ClassificationError(tt.yTrue, tt.yPred)
			if err != nil {
				t.Fatalf("ClassificationError: %v", err)
			}
			if math.Abs(ce-(1-tt.want)) > 1e-12 {
				t.Errorf("ClassificationError = %v, want %v", ce, 1-tt.want)
			}
		})
	}
}

func TestAccuracy_InvalidInput(t *testing.T) {
	cases := map[string][2]*mat.VecDense{
		"nil true":        {nil, vec(1)},
		"nil pred":        {vec(1), nil},
		"length mismatch": {vec(1, 0), vec(1)},
	}
	for name, c := range cases {
		if _, err := Accuracy(c[0], c[1]); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := ClassificationError(vec(1, 0), vec(1)); err == nil {
		t.Error("ClassificationError should propagate the length mismatch")
	}
}

func TestAccuracyMatrix(t *testing.T) {
	got, err := AccuracyMatrix(col(1, 0, 1, 1), col(1, 1, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if got != 0.75 {
		t.Errorf("AccuracyMatrix = %v, want 0.75", got)
	}

	if _, err := AccuracyMatrix(mat.NewDense(2, 2, nil), col(0, 1)); err == nil {
		t.Error("a 2-column yTrue should be rejected")
	}
	if _, err := AccuracyMatrix(nil, col(0)); err == nil {
		t.Error("nil matrix should be rejected")
	}
}

func TestAUC(t *testing.T) {
	tests := []struct {
		name   string
		yTrue  *mat.VecDense
		yScore *mat.VecDense
		want   float64
	}{
		{"ranked perfectly", vec(0, 1, 0, 1), vec(0.2, 0.9, 0.1, 0.6), 1},
		{"ranked backwards", vec(1, 1, 0, 0), vec(0.1, 0.2, 0.8, 0.9), 0},
		// 正例 3 件 × 負例 2 件 = 6 組のうち 5 組が正しく並ぶ
		{"one inversion", vec(1, 0, 1, 0, 1), vec(0.9, 0.3, 0.7, 0.75, 0.8), 5.0 / 6},
		// 同点は半分として数える
		{"tied scores", vec(0, 1, 0, 1), vec(0.4, 0.4, 0.1, 0.9), 0.875},
		{"constant scores", vec(0, 1, 1, 0, 1), vec(3, 3, 3, 3, 3), 0.5},
		{"single class", vec(1, 1, 1), vec(0.2, 0.5, 0.9), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AUC(tt.yTrue, tt.yScore)
			if err != nil {
				t.Fatalf("AUC: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("AUC = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAUC_InvalidInput(t *testing.T) {
	if _, err := AUC(vec(0, 2, 1), vec(0.1, 0.2, 0.3)); err == nil {
		t.Error("labels other than 0/1 should be rejected")
	}
	if _, err := AUC(vec(0, 1), vec(0.5)); err == nil {
		t.Error("length mismatch should be rejected")
	}
	if _, err := AUC(mat.NewVecDense(1, nil), nil); err == nil {
		t.Error("nil scores should be rejected")
	}
}

func TestAUCMatrix_UsesFirstColumn(t *testing.T) {
	// second column holds the complementary probability and must be ignored
	scores := mat.NewDense(4, 2, []float64{
		0.1, 0.9,
		0.8, 0.2,
		0.3, 0.7,
		0.6, 0.4,
	})
	got, err := AUCMatrix(col(0, 1, 0, 1), scores)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("AUCMatrix = %v, want 1", got)
	}

	if _, err := AUCMatrix(&mat.Dense{}, scores); err == nil {
		t.Error("empty matrix should be rejected")
	}
}

func BenchmarkAUC(b *testing.B) {
	n := 10000
	yTrue := mat.NewVecDense(n, nil)
	yScore := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yTrue.SetVec(i, float64(i%2))
		yScore.SetVec(i, float64((i*7919)%n)/float64(n))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = AUC(yTrue, yScore)
	}
}
