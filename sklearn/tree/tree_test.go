package tree

import (
	"bytes"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitune/core/model"
	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// blobs returns k well separated 2-D clusters of m points each; cluster c
// is centered at (5c, 5c) and labeled c.
func blobs(k, m int) (*mat.Dense, *mat.Dense) {
	offsets := [][2]float64{{0, 0}, {0, 0.5}, {0.5, 0}, {0.4, 0.4}}
	X := mat.NewDense(k*m, 2, nil)
	y := mat.NewDense(k*m, 1, nil)
	for c := 0; c < k; c++ {
		for i := 0; i < m; i++ {
			row := c*m + i
			o := offsets[i%len(offsets)]
			X.Set(row, 0, float64(5*c)+o[0])
			X.Set(row, 1, float64(5*c)+o[1])
			y.Set(row, 0, float64(c))
		}
	}
	return X, y
}

func checkProba(t *testing.T, proba mat.Matrix, wantCols int) {
	t.Helper()
	rows, cols := proba.Dims()
	if cols != wantCols {
		t.Fatalf("proba has %d columns, want %d", cols, wantCols)
	}
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			p := proba.At(i, j)
			if p < 0 || p > 1 {
				t.Errorf("proba[%d][%d] = %v out of [0,1]", i, j, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("row %d sums to %v", i, sum)
		}
	}
}

func TestDecisionTreeClassifier_SeparableData(t *testing.T) {
	tests := []struct {
		name      string
		classes   int
		criterion string
	}{
		{"binary gini", 2, "gini"},
		{"binary entropy", 2, "entropy"},
		{"three classes gini", 3, "gini"},
		{"four classes entropy", 4, "entropy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			X, y := blobs(tt.classes, 4)
			dt := NewDecisionTreeClassifier(WithCriterion(tt.criterion), WithMaxDepth(6))
			if err := dt.Fit(X, y); err != nil {
				t.Fatalf("Fit: %v", err)
			}

			score, err := dt.Score(X, y)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if score != 1 {
				t.Errorf("training accuracy = %v, want 1", score)
			}
			if got := len(dt.Classes()); got != tt.classes {
				t.Errorf("Classes() has %d entries, want %d", got, tt.classes)
			}

			proba, err := dt.PredictProba(X)
			if err != nil {
				t.Fatalf("PredictProba: %v", err)
			}
			checkProba(t, proba, tt.classes)

			// 未知の点もクラス中心に最も近いクラスに割り当てられる
			query := mat.NewDense(tt.classes, 2, nil)
			for c := 0; c < tt.classes; c++ {
				query.Set(c, 0, float64(5*c)+0.2)
				query.Set(c, 1, float64(5*c)+0.2)
			}
			pred, err := dt.Predict(query)
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			for c := 0; c < tt.classes; c++ {
				if pred.At(c, 0) != float64(c) {
					t.Errorf("point near class %d predicted %v", c, pred.At(c, 0))
				}
			}
		})
	}
}

func TestDecisionTreeClassifier_CheckerboardNeedsDepth(t *testing.T) {
	// 2x2 checkerboard: no single split separates the classes.
	X := mat.NewDense(8, 2, []float64{
		0, 0, 0.2, 0.1,
		0, 1, 0.1, 0.9,
		1, 0, 0.9, 0.2,
		1, 1, 0.8, 0.9,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 1, 1, 1, 1, 0, 0})

	stump := NewDecisionTreeClassifier(WithMaxDepth(1))
	if err := stump.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if d := stump.GetDepth(); d > 1 {
		t.Errorf("depth %d exceeds max_depth=1", d)
	}
	if s, _ := stump.Score(X, y); s == 1 {
		t.Error("a stump should not fit a checkerboard")
	}

	deep := NewDecisionTreeClassifier(WithMaxDepth(4))
	if err := deep.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if s, _ := deep.Score(X, y); s != 1 {
		t.Errorf("depth-4 tree accuracy = %v, want 1", s)
	}
}

func TestDecisionTreeClassifier_FeatureImportances(t *testing.T) {
	// Only column 1 carries the label; columns 0 and 2 are noise.
	X := mat.NewDense(10, 3, nil)
	y := mat.NewDense(10, 1, nil)
	for i := 0; i < 10; i++ {
		X.Set(i, 0, float64(i%3))
		X.Set(i, 1, float64(i/5))
		X.Set(i, 2, float64((i*7)%4))
		y.Set(i, 0, float64(i/5))
	}

	dt := NewDecisionTreeClassifier()
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	imp := dt.GetFeatureImportances()
	if len(imp) != 3 {
		t.Fatalf("got %d importances, want 3", len(imp))
	}
	if imp[1] != 1 || imp[0] != 0 || imp[2] != 0 {
		t.Errorf("importances = %v, want all weight on feature 1", imp)
	}
}

func TestDecisionTreeClassifier_LeafSizeLimits(t *testing.T) {
	X := mat.NewDense(12, 1, nil)
	y := mat.NewDense(12, 1, nil)
	for i := 0; i < 12; i++ {
		X.Set(i, 0, float64(i))
		y.Set(i, 0, float64(i%2)) // alternating labels want one leaf per row
	}

	dt := NewDecisionTreeClassifier(WithMinSamplesSplit(6), WithMinSamplesLeaf(3))
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if n := dt.GetNLeaves(); n > 4 {
		t.Errorf("%d leaves with min_samples_leaf=3 on 12 rows, want <= 4", n)
	}
}

func TestDecisionTreeClassifier_Params(t *testing.T) {
	dt := NewDecisionTreeClassifier(WithMaxFeatures(2), WithRandomState(9))
	params := dt.GetParams()

	defaults := map[string]interface{}{
		"criterion":         "gini",
		"min_samples_split": 2,
		"max_features":      2,
	}
	for k, want := range defaults {
		if params[k] != want {
			t.Errorf("GetParams()[%q] = %v, want %v", k, params[k], want)
		}
	}

	if err := dt.SetParams(map[string]interface{}{"criterion": "entropy", "max_depth": 3, "min_samples_leaf": 2}); err != nil {
		t.Fatal(err)
	}
	if dt.criterion != "entropy" || dt.maxDepth != 3 || dt.minSamplesLeaf != 2 {
		t.Errorf("SetParams not applied: %+v", dt.GetParams())
	}
}

func TestDecisionTreeClassifier_UnfittedPredict(t *testing.T) {
	dt := NewDecisionTreeClassifier()
	X := mat.NewDense(1, 2, []float64{1, 2})

	if _, err := dt.PredictProba(X); err == nil {
		t.Error("PredictProba before Fit should fail")
	}
	if _, err := dt.Score(X, mat.NewDense(1, 1, []float64{0})); err == nil {
		t.Error("Score before Fit should fail")
	}
}

func TestDecisionTreeClassifier_NotFittedErrorType(t *testing.T) {
	dt := NewDecisionTreeClassifier()
	_, err := dt.Predict(mat.NewDense(1, 2, []float64{1, 2}))

	var notFitted *errors.NotFittedError
	if !errors.As(err, &notFitted) {
		t.Fatalf("expected NotFittedError, got %v", err)
	}
}

func TestDecisionTreeClassifier_FeatureMismatch(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{0, 0, 0, 1, 5, 5, 5, 6})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	dt := NewDecisionTreeClassifier()
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	_, err := dt.Predict(mat.NewDense(1, 3, []float64{1, 2, 3}))
	var dimErr *errors.DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionError, got %v", err)
	}
}

func TestDecisionTreeClassifier_NonContiguousLabels(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 10, 11})
	y := mat.NewDense(4, 1, []float64{3, 3, 7, 7})

	dt := NewDecisionTreeClassifier()
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if got := dt.Classes(); len(got) != 2 || got[0] != 3 || got[1] != 7 {
		t.Errorf("Classes() = %v, want [3 7]", got)
	}

	pred, err := dt.Predict(mat.NewDense(2, 1, []float64{0.5, 10.5}))
	if err != nil {
		t.Fatal(err)
	}
	if pred.At(0, 0) != 3 || pred.At(1, 0) != 7 {
		t.Errorf("predictions = [%v %v], want [3 7]", pred.At(0, 0), pred.At(1, 0))
	}
}

func TestDecisionTreeClassifier_FitIndices(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{0, 1, 2, 10, 11, 12})
	yClass := []int{0, 0, 0, 1, 1, 1}

	// Bootstrap-style sample with repeats that still covers both classes.
	dt := NewDecisionTreeClassifier(WithRandomState(1))
	if err := dt.FitIndices(X, yClass, 2, []int{0, 0, 1, 4, 4, 5}); err != nil {
		t.Fatal(err)
	}

	proba, err := dt.PredictProba(mat.NewDense(2, 1, []float64{2, 10}))
	if err != nil {
		t.Fatal(err)
	}
	if proba.At(0, 0) != 1 || proba.At(1, 1) != 1 {
		t.Errorf("unexpected probabilities: %v", mat.Formatted(proba))
	}
}

func TestDecisionTreeClassifier_SetParamsInvalid(t *testing.T) {
	dt := NewDecisionTreeClassifier()

	tests := []map[string]interface{}{
		{"criterion": "log_loss"},
		{"min_samples_split": 1},
		{"max_depth": "deep"},
		{"unknown": 1},
	}
	for _, params := range tests {
		if err := dt.SetParams(params); err == nil {
			t.Errorf("SetParams(%v) should fail", params)
		}
	}

	// float64 values coming from JSON decoding are accepted when integral.
	if err := NewDecisionTreeClassifier().SetParams(map[string]interface{}{"max_depth": 4.0}); err != nil {
		t.Errorf("integral float64 should be accepted: %v", err)
	}
}

func TestDecisionTreeClassifier_GobRoundTrip(t *testing.T) {
	X := mat.NewDense(6, 2, []float64{0, 0, 0, 1, 1, 0, 2, 2, 2, 3, 3, 2})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})

	dt := NewDecisionTreeClassifier(WithCriterion("entropy"))
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := model.Encode(&buf, dt); err != nil {
		t.Fatal(err)
	}
	var loaded DecisionTreeClassifier
	if err := model.Decode(&buf, &loaded); err != nil {
		t.Fatal(err)
	}

	want, _ := dt.Predict(X)
	got, err := loaded.Predict(X)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(want, got) {
		t.Error("loaded tree predictions differ from the original")
	}
	if loaded.GetParams()["criterion"] != "entropy" {
		t.Error("criterion not restored")
	}
}
