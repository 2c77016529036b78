package simple

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/Noofbiz/taxiDest/logging"
)

// Config holds configurable hyperparameters for the MLP model and training.
type Config struct {
	// HiddenSizes is the list of hidden layer sizes. Example: []int{64, 32}
	// If empty, a single hidden layer of size 64 will be used.
	HiddenSizes []int

	// InputDim is the dimensionality of the input feature vector. If zero,
	// NewModel uses 4*DefaultPoints.
	InputDim int

	// LearningRate used by the optimizer (SGD or Adam).
	LearningRate float64

	// Epochs to train for (default if 0 will be set by NewModel to 10).
	Epochs int

	// BatchSize for mini-batch updates (default if 0 will be set by NewModel to 8).
	BatchSize int

	// Seed controls RNG for weight init and shuffling. If zero, time-based seed is used.
	Seed int64

	// Optimizer selects the optimizer to use: "adam" or "sgd". Default: "adam".
	Optimizer string

	// Adam hyperparameters (used when Optimizer == "adam"; defaults below if zero).
	Beta1   float64
	Beta2   float64
	Epsilon float64

	// ClipNorm bounds the global L2 norm of each minibatch gradient. Zero
	// disables clipping.
	ClipNorm float64
}

// Dataset is the minimal interface the trainer requires: fixed-size feature
// vectors and 2-d labels.
type Dataset interface {
	Len() int
	Batch(indices []int) ([][]float32, [][]float32, error)
}

// Model is a small configurable MLP trained in pure Go. Hidden layers use
// ReLU, the output layer is linear.
type Model struct {
	// Config used for training / initialization.
	Config Config

	// layerSizes includes input size, hidden sizes, then output size.
	layerSizes []int

	// weights[l] is a matrix of shape [out][in] for layer l -> l+1
	weights [][][]float32

	// biases[l] is a vector of length out for layer l -> l+1
	biases [][]float32

	// Adam moments, allocated on first use
	mW, vW [][][]float32
	mB, vB [][]float32
	step   int

	rng *rand.Rand
}

const outputDim = 2

// NewModel creates a new Model instance with the provided configuration.
// It initializes weights (small random values) and is ready to train.
func NewModel(cfg Config) (*Model, error) {
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{64}
	}
	if cfg.InputDim == 0 {
		cfg.InputDim = 4 * DefaultPoints
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 10
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 8
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Optimizer == "" {
		cfg.Optimizer = "adam"
	}
	if cfg.Optimizer != "adam" && cfg.Optimizer != "sgd" {
		return nil, fmt.Errorf("unknown optimizer %q", cfg.Optimizer)
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-8
	}
	for _, h := range cfg.HiddenSizes {
		if h <= 0 {
			return nil, fmt.Errorf("hidden sizes must be > 0, got %v", cfg.HiddenSizes)
		}
	}

	m := &Model{
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	sizes := make([]int, 0, 2+len(cfg.HiddenSizes))
	sizes = append(sizes, cfg.InputDim)
	sizes = append(sizes, cfg.HiddenSizes...)
	sizes = append(sizes, outputDim)
	m.layerSizes = sizes

	L := len(sizes) - 1
	m.weights = make([][][]float32, L)
	m.biases = make([][]float32, L)
	for l := 0; l < L; l++ {
		in, out := sizes[l], sizes[l+1]
		// Xavier/Glorot uniform initialization heuristic
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		m.weights[l] = newMatrix(out, in)
		for j := range m.weights[l] {
			for i := range m.weights[l][j] {
				m.weights[l][j][i] = (m.rng.Float32()*2.0 - 1.0) * limit * 0.5
			}
		}
		m.biases[l] = make([]float32, out)
	}
	return m, nil
}

func newMatrix(rows, cols int) [][]float32 {
	mat := make([][]float32, rows)
	for j := range mat {
		mat[j] = make([]float32, cols)
	}
	return mat
}

// activationReLU applies ReLU in-place over the slice.
func activationReLU(x []float32) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

// forwardSingle performs a forward pass for a single input vector, returning
// the pre-activations per layer and the activations per layer (acts[0] is the
// input).
func (m *Model) forwardSingle(input []float32) (preActs [][]float32, acts [][]float32, err error) {
	if len(input) != m.layerSizes[0] {
		return nil, nil, fmt.Errorf("input has dimension %d, want %d", len(input), m.layerSizes[0])
	}
	L := len(m.weights)
	acts = make([][]float32, L+1)
	acts[0] = append([]float32(nil), input...)

	preActs = make([][]float32, L)
	for l := 0; l < L; l++ {
		inVec := acts[l]
		W, b := m.weights[l], m.biases[l]
		pre := make([]float32, len(b))
		for j := range pre {
			sum := b[j]
			for i, w := range W[j] {
				sum += w * inVec[i]
			}
			pre[j] = sum
		}
		preActs[l] = pre

		act := append([]float32(nil), pre...)
		if l < L-1 {
			activationReLU(act)
		}
		acts[l+1] = act
	}
	return preActs, acts, nil
}

// PredictBatch returns the raw model outputs, shape [batch][2].
func (m *Model) PredictBatch(inputs [][]float32) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		_, acts, err := m.forwardSingle(in)
		if err != nil {
			return nil, err
		}
		out[i] = acts[len(acts)-1]
	}
	return out, nil
}

// gradients mirrors the parameter layout.
type gradients struct {
	w [][][]float32
	b [][]float32
}

func (m *Model) zeroGradients() gradients {
	g := gradients{w: make([][][]float32, len(m.weights)), b: make([][]float32, len(m.biases))}
	for l := range m.weights {
		g.w[l] = newMatrix(len(m.biases[l]), m.layerSizes[l])
		g.b[l] = make([]float32, len(m.biases[l]))
	}
	return g
}

// backward accumulates the MSE gradient of one example into g and returns the
// example's squared error.
func (m *Model) backward(in, label []float32, g gradients) (float64, error) {
	preacts, acts, err := m.forwardSingle(in)
	if err != nil {
		return 0, err
	}
	out := acts[len(acts)-1]
	delta := make([]float32, len(out))
	var loss float64
	for j := range out {
		d := out[j] - label[j]
		delta[j] = 2.0 * d
		loss += float64(d * d)
	}

	for l := len(m.weights) - 1; l >= 0; l-- {
		inAct := acts[l]
		for j := range delta {
			g.b[l][j] += delta[j]
			for i := range inAct {
				g.w[l][j][i] += delta[j] * inAct[i]
			}
		}
		if l == 0 {
			break
		}
		prev := make([]float32, len(inAct))
		for i := range prev {
			if preacts[l-1][i] <= 0 {
				continue
			}
			var sum float32
			for j := range delta {
				sum += m.weights[l][j][i] * delta[j]
			}
			prev[i] = sum
		}
		delta = prev
	}
	return loss, nil
}

// scaleAndClip averages g over n examples and rescales it to ClipNorm when
// its global norm exceeds it. It returns the norm before clipping.
func (m *Model) scaleAndClip(g gradients, n int) float64 {
	inv := float32(1.0 / float64(n))
	flat := make([]float64, 0, m.numParams())
	for l := range g.w {
		for j := range g.w[l] {
			for i := range g.w[l][j] {
				g.w[l][j][i] *= inv
				flat = append(flat, float64(g.w[l][j][i]))
			}
			g.b[l][j] *= inv
			flat = append(flat, float64(g.b[l][j]))
		}
	}
	norm := floats.Norm(flat, 2)
	clip := m.Config.ClipNorm
	if clip > 0 && norm > clip {
		s := float32(clip / norm)
		for l := range g.w {
			for j := range g.w[l] {
				for i := range g.w[l][j] {
					g.w[l][j][i] *= s
				}
				g.b[l][j] *= s
			}
		}
	}
	return norm
}

func (m *Model) numParams() int {
	n := 0
	for l := range m.weights {
		n += len(m.biases[l]) * (m.layerSizes[l] + 1)
	}
	return n
}

func (m *Model) applySGD(g gradients, lr float32) {
	for l := range m.weights {
		for j := range m.weights[l] {
			for i := range m.weights[l][j] {
				m.weights[l][j][i] -= lr * g.w[l][j][i]
			}
			m.biases[l][j] -= lr * g.b[l][j]
		}
	}
}

func (m *Model) applyAdam(g gradients, lr float64) {
	if m.mW == nil {
		z1, z2 := m.zeroGradients(), m.zeroGradients()
		m.mW, m.mB = z1.w, z1.b
		m.vW, m.vB = z2.w, z2.b
	}
	m.step++
	b1, b2, eps := m.Config.Beta1, m.Config.Beta2, m.Config.Epsilon
	c1 := 1 - math.Pow(b1, float64(m.step))
	c2 := 1 - math.Pow(b2, float64(m.step))
	update := func(p, mom, vel *float32, grad float32) {
		*mom = float32(b1)*(*mom) + float32(1-b1)*grad
		*vel = float32(b2)*(*vel) + float32(1-b2)*grad*grad
		mHat := float64(*mom) / c1
		vHat := float64(*vel) / c2
		*p -= float32(lr * mHat / (math.Sqrt(vHat) + eps))
	}
	for l := range m.weights {
		for j := range m.weights[l] {
			for i := range m.weights[l][j] {
				update(&m.weights[l][j][i], &m.mW[l][j][i], &m.vW[l][j][i], g.w[l][j][i])
			}
			update(&m.biases[l][j], &m.mB[l][j], &m.vB[l][j], g.b[l][j])
		}
	}
}

// TrainWithDataset runs mini-batch training with a mean-squared-error loss and
// returns the mean loss of every epoch.
func (m *Model) TrainWithDataset(ds Dataset) ([]float64, error) {
	if ds == nil {
		return nil, errors.New("dataset is nil")
	}
	n := ds.Len()
	if n == 0 {
		return nil, errors.New("dataset has no examples")
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}

	history := make([]float64, 0, m.Config.Epochs)
	for ep := 0; ep < m.Config.Epochs; ep++ {
		m.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		var epochLoss, maxNorm float64
		for bstart := 0; bstart < n; bstart += m.Config.BatchSize {
			batchIdx := indices[bstart:min(bstart+m.Config.BatchSize, n)]
			inputs, labels, err := ds.Batch(batchIdx)
			if err != nil {
				return nil, err
			}
			if len(inputs) == 0 {
				continue
			}

			g := m.zeroGradients()
			for ex := range inputs {
				loss, err := m.backward(inputs[ex], labels[ex], g)
				if err != nil {
					return nil, err
				}
				epochLoss += loss
			}
			maxNorm = math.Max(maxNorm, m.scaleAndClip(g, len(inputs)))

			if m.Config.Optimizer == "sgd" {
				m.applySGD(g, float32(m.Config.LearningRate))
			} else {
				m.applyAdam(g, m.Config.LearningRate)
			}
		}
		history = append(history, epochLoss/float64(n))
		logging.Debug().
			Int("epoch", ep+1).
			Float64("loss", history[ep]).
			Float64("max_grad_norm", maxNorm).
			Msg("mlp epoch")
	}
	return history, nil
}
