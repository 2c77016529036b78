package simple

import (
	"math"
	"testing"

)

// mockDataset implements the minimal Dataset interface required by the trainer.
type mockDataset struct {
	inputs [][]float32
	labels [][]float32
}

func (m *mockDataset) Len() int { return len(m.inputs) }

func (m *mockDataset) Batch(indices []int) ([][]float32, [][]float32, error) {
	in := make([][]float32, len(indices))
	la := make([][]float32, len(indices))
	for i, idx := range indices {
		in[i] = m.inputs[idx]
		la[i] = m.labels[idx]
	}
	return in, la, nil
}

func mse(preds, labels [][]float32) float64 {
	if len(preds) == 0 {
		return 0.0
	}
	var sum float64
	var n int
	for i := range preds {
		for j := range preds[i] {
			d := float64(preds[i][j] - labels[i][j])
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0.0
	}
	return sum / float64(n)
}

// TestModelTrainWithMockDataset verifies the pure-Go trainer reduces MSE on a
// simple synthetic regression dataset.
func TestModelTrainWithMockDataset(t *testing.T) {
	// synthesize a small dataset where label is a linear function of first two inputs.
	const N = 120
	inputs := make([][]float32, N)
	labels := make([][]float32, N)
	for i := 0; i < N; i++ {
		x := float32(i % 10)        // 0..9
		y := float32((i / 10) % 10) // 0..9 repeated
		in := make([]float32, 6)
		in[0] = x
		in[1] = y
		// remaining features left zero
		inputs[i] = in
		// label = [2*x + 0.5*y, x - y]
		labels[i] = []float32{2*x + 0.5*y, x - y}
	}

	for _, opt := range []string{"sgd", "adam"} {
		t.Run(opt, func(t *testing.T) {
			trainAndCompare(t, inputs, labels, Config{
				HiddenSizes:  []int{32, 16},
				InputDim:     6,
				LearningRate: 0.01,
				Epochs:       30,
				BatchSize:    16,
				Seed:         42,
				Optimizer:    opt,
				ClipNorm:     50,
			})
		})
	}
}

func trainAndCompare(t *testing.T, inputs, labels [][]float32, cfg Config) {
	t.Helper()
	ds := &mockDataset{inputs: inputs, labels: labels}

	model, err := NewModel(cfg)
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}

	// Evaluate baseline MSE on a holdout subset (first 20 examples)
	holdN := 20
	holdInputs := inputs[:holdN]
	holdLabels := labels[:holdN]

	predBefore, err := model.PredictBatch(holdInputs)
	if err != nil {
		t.Fatalf("PredictBatch(before) error: %v", err)
	}
	mseBefore := mse(predBefore, holdLabels)

	// Train
	history, err := model.TrainWithDataset(ds)
	if err != nil {
		t.Fatalf("TrainWithDataset error: %v", err)
	}
	if len(history) != cfg.Epochs {
		t.Fatalf("expected %d epoch losses, got %d", cfg.Epochs, len(history))
	}

	predAfter, err := model.PredictBatch(holdInputs)
	if err != nil {
		t.Fatalf("PredictBatch(after) error: %v", err)
	}
	mseAfter := mse(predAfter, holdLabels)

	t.Logf("mse before=%.6f after=%.6f", mseBefore, mseAfter)

	// Expect MSE to have decreased (allow tiny tolerance)
	if !(mseAfter+1e-9 < mseBefore) {
		t.Fatalf("expected mse to decrease after training: before=%.6f after=%.6f", mseBefore, mseAfter)
	}

	// Ensure predictions are finite
	for i := range predAfter {
		for j := range predAfter[i] {
			if math.IsNaN(float64(predAfter[i][j])) || math.IsInf(float64(predAfter[i][j]), 0) {
				t.Fatalf("non-finite prediction at %d,%d: %v", i, j, predAfter[i][j])
			}
		}
	}
}


func TestScaleAndClip(t *testing.T) {
	m, err := NewModel(Config{HiddenSizes: []int{3}, InputDim: 2, Seed: 1, ClipNorm: 1})
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	g := m.zeroGradients()
	for l := range g.w {
		for j := range g.w[l] {
			for i := range g.w[l][j] {
				g.w[l][j][i] = 4
			}
			g.b[l][j] = 4
		}
	}
	// Averaging over 2 examples halves every entry before clipping.
	norm := m.scaleAndClip(g, 2)
	want := 2 * math.Sqrt(float64(m.numParams()))
	if math.Abs(norm-want) > 1e-6 {
		t.Fatalf("norm before clipping = %v, want %v", norm, want)
	}
	var sq float64
	for l := range g.w {
		for j := range g.w[l] {
			for i := range g.w[l][j] {
				sq += float64(g.w[l][j][i] * g.w[l][j][i])
			}
			sq += float64(g.b[l][j] * g.b[l][j])
		}
	}
	if math.Abs(math.Sqrt(sq)-1) > 1e-4 {
		t.Fatalf("clipped norm = %v, want 1", math.Sqrt(sq))
	}
}

func TestNewModelRejectsBadConfig(t *testing.T) {
	if _, err := NewModel(Config{Optimizer: "rmsprop"}); err == nil {
		t.Error("expected error for unknown optimizer")
	}
	if _, err := NewModel(Config{HiddenSizes: []int{0}}); err == nil {
		t.Error("expected error for zero hidden size")
	}
	m, err := NewModel(Config{InputDim: 3, Seed: 1})
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	if _, err := m.PredictBatch([][]float32{{1, 2}}); err == nil {
		t.Error("expected dimension error")
	}
	if _, err := m.TrainWithDataset(&mockDataset{}); err == nil {
		t.Error("expected error for empty dataset")
	}
}
