package model

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

func newBackend(t *testing.T) backends.Backend {
	t.Helper()
	backend, err := simplego.New("parallelism=-1")
	if err != nil {
		t.Fatalf("failed to create simplego backend: %v", err)
	}
	return backend
}

func newPredictor(t *testing.T, backend backends.Backend, m *Model) *Predictor {
	t.Helper()
	p, err := NewPredictor(backend, m)
	if err != nil {
		t.Fatalf("NewPredictor: %v", err)
	}
	return p
}

// testConfig is a small model over Porto-like coordinates with one context
// feature.
func testConfig() Config {
	prefix := EncoderConfig{
		RecStateDim: 4,
		DimHidden:   []int{6},
		Embeddings:  []EmbeddingSpec{{Name: "day_of_week", Vocab: 7, Dim: 3}},
		Init:        InitConfig{Weights: "gaussian", Scale: 0.1, Biases: 0.001},
	}
	candidate := prefix
	return Config{
		PrefixEncoder:            prefix,
		CandidateEncoder:         candidate,
		RepresentationSize:       5,
		RepresentationActivation: Tanh,
		NormalizeRepresentation:  true,
		Normalization:            GPSStats{LatMean: 41.15731, LonMean: -8.61612, LatStd: 0.0741, LonStd: 0.0577},
		Seed:                     1,
	}
}

// trajectories pads the given (lat, lon) paths into named tensors.
func trajectories(prefix string, paths [][][2]float32, maxLen int) map[string]*tensors.Tensor {
	lat := make([][]float32, len(paths))
	lon := make([][]float32, len(paths))
	mask := make([][]float32, len(paths))
	dow := make([]int32, len(paths))
	for i, p := range paths {
		lat[i] = make([]float32, maxLen)
		lon[i] = make([]float32, maxLen)
		mask[i] = make([]float32, maxLen)
		for t, pt := range p {
			lat[i][t], lon[i][t], mask[i][t] = pt[0], pt[1], 1
		}
		dow[i] = int32(i % 7)
	}
	return map[string]*tensors.Tensor{
		prefix + LatitudeKey:  tensors.FromAnyValue(lat),
		prefix + LongitudeKey: tensors.FromAnyValue(lon),
		prefix + MaskKey:      tensors.FromAnyValue(mask),
		prefix + "day_of_week": tensors.FromAnyValue(dow),
	}
}

func randomPath(rng *rand.Rand, n int) [][2]float32 {
	p := make([][2]float32, n)
	lat, lon := 41.15+rng.Float64()*0.02, -8.62+rng.Float64()*0.02
	for i := range p {
		lat += (rng.Float64() - 0.5) * 0.002
		lon += (rng.Float64() - 0.5) * 0.002
		p[i] = [2]float32{float32(lat), float32(lon)}
	}
	return p
}

func merge(sets ...map[string]*tensors.Tensor) map[string]*tensors.Tensor {
	out := make(map[string]*tensors.Tensor)
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

func TestLastValidSelection(t *testing.T) {
	backend := newBackend(t)

	// states[t][b][0] = t, so the selected value is the selected index.
	const steps, batch = 5, 3
	states := make([][][]float32, steps)
	for s := range states {
		states[s] = make([][]float32, batch)
		for b := range states[s] {
			states[s][b] = []float32{float32(s)}
		}
	}
	mask := [][]float32{
		{1, 1, 1, 0, 0},
		{1, 1, 1, 1, 1},
		{1, 0, 0, 0, 0},
	}
	want := []float32{2, 4, 0}

	exec := graph.MustNewExec(backend, func(states, mask *graph.Node) *graph.Node {
		return selectLastValid(states, mask)
	})
	got := exec.MustExec(tensors.FromAnyValue(states), tensors.FromAnyValue(mask))[0].Value().([][]float32)
	for b := range want {
		if got[b][0] != want[b] {
			t.Errorf("row %d: selected forward state at index %v, want %v", b, got[b][0], want[b])
		}
	}

	values := [][]float32{
		{10, 11, 12, 13, 14},
		{20, 21, 22, 23, 24},
		{30, 31, 32, 33, 34},
	}
	valueExec := graph.MustNewExec(backend, func(values, mask *graph.Node) *graph.Node {
		return lastValidValue(values, mask)
	})
	gotValues := valueExec.MustExec(tensors.FromAnyValue(values), tensors.FromAnyValue(mask))[0].Value().([]float32)
	if !reflect.DeepEqual(gotValues, []float32{12, 24, 30}) {
		t.Errorf("lastValidValue = %v, want [12 24 30]", gotValues)
	}
}

func TestRepresentationDimIndependentOfLength(t *testing.T) {
	backend := newBackend(t)
	m, err := New(context.New(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := newPredictor(t, backend, m)
	rng := rand.New(rand.NewSource(7))

	for _, length := range []int{1, 5, 50} {
		paths := [][][2]float32{randomPath(rng, length), randomPath(rng, length), randomPath(rng, 1)}
		reps, err := p.Represent(trajectories("", paths, length))
		if err != nil {
			t.Fatalf("length %d: Represent: %v", length, err)
		}
		if len(reps) != len(paths) {
			t.Fatalf("length %d: got %d representations, want %d", length, len(reps), len(paths))
		}
		for i, r := range reps {
			if len(r) != m.Config().RepresentationSize {
				t.Errorf("length %d row %d: dim %d, want %d", length, i, len(r), m.Config().RepresentationSize)
			}
			for _, v := range r {
				if math.IsNaN(float64(v)) || math.Abs(float64(v)) > 1 {
					t.Errorf("length %d row %d: value %v outside tanh range", length, i, v)
				}
			}
		}
	}
}

func TestPaddingDoesNotChangeRepresentation(t *testing.T) {
	backend := newBackend(t)
	m, err := New(context.New(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := newPredictor(t, backend, m)
	path := randomPath(rand.New(rand.NewSource(3)), 4)

	short, err := p.Represent(trajectories("", [][][2]float32{path}, 4))
	if err != nil {
		t.Fatalf("Represent: %v", err)
	}
	padded, err := p.Represent(trajectories("", [][][2]float32{path}, 9))
	if err != nil {
		t.Fatalf("Represent: %v", err)
	}
	for i := range short[0] {
		if math.Abs(float64(short[0][i]-padded[0][i])) > 1e-5 {
			t.Fatalf("padding changed representation: %v vs %v", short[0], padded[0])
		}
	}
}

func TestL2NormalizeUnitNorm(t *testing.T) {
	backend := newBackend(t)
	rng := rand.New(rand.NewSource(11))
	x := make([][]float32, 6)
	for i := range x {
		x[i] = make([]float32, 4)
		for j := range x[i] {
			x[i][j] = float32(rng.NormFloat64() * 3)
		}
	}
	x[0] = []float32{0, 0, 0, 0.5}

	exec := graph.MustNewExec(backend, L2Normalize)
	got := exec.MustExec(tensors.FromAnyValue(x))[0].Value().([][]float32)
	for i, row := range got {
		var sq float64
		for _, v := range row {
			sq += float64(v) * float64(v)
		}
		if math.Abs(math.Sqrt(sq)-1) > 1e-5 {
			t.Errorf("row %d: norm %v, want 1", i, math.Sqrt(sq))
		}
	}
}

func TestAttentionRowsSumToOne(t *testing.T) {
	backend := newBackend(t)
	rng := rand.New(rand.NewSource(5))
	mat := func(rows, cols int) [][]float32 {
		m := make([][]float32, rows)
		for i := range m {
			m[i] = make([]float32, cols)
			for j := range m[i] {
				m[i][j] = float32(rng.NormFloat64() * 4)
			}
		}
		return m
	}

	exec := graph.MustNewExec(backend, Attention)
	for trial := 0; trial < 5; trial++ {
		got := exec.MustExec(tensors.FromAnyValue(mat(3, 8)), tensors.FromAnyValue(mat(7, 8)))[0].Value().([][]float32)
		for i, row := range got {
			var sum float64
			for _, v := range row {
				if v < 0 {
					t.Fatalf("negative attention weight %v", v)
				}
				sum += float64(v)
			}
			if math.Abs(sum-1) > 1e-5 {
				t.Errorf("trial %d row %d: attention sums to %v", trial, i, sum)
			}
		}
	}
}

func TestWeightedDestinationWithinCandidateBounds(t *testing.T) {
	backend := newBackend(t)
	rng := rand.New(rand.NewSource(99))
	exec := graph.MustNewExec(backend, func(logits, destinations *graph.Node) *graph.Node {
		return WeightedDestination(graph.Softmax(logits, 1), destinations)
	})

	const prefixes, candidates = 4, 10
	for trial := 0; trial < 20; trial++ {
		logits := make([][]float32, prefixes)
		for i := range logits {
			logits[i] = make([]float32, candidates)
			for j := range logits[i] {
				logits[i][j] = float32(rng.NormFloat64() * 5)
			}
		}
		dest := make([][]float32, candidates)
		lo := [2]float32{math.MaxFloat32, math.MaxFloat32}
		hi := [2]float32{-math.MaxFloat32, -math.MaxFloat32}
		for j := range dest {
			dest[j] = []float32{41 + rng.Float32(), -9 + rng.Float32()}
			for k := 0; k < 2; k++ {
				lo[k] = min(lo[k], dest[j][k])
				hi[k] = max(hi[k], dest[j][k])
			}
		}

		got := exec.MustExec(tensors.FromAnyValue(logits), tensors.FromAnyValue(dest))[0].Value().([][]float32)
		const eps = 1e-4
		for i, p := range got {
			for k := 0; k < 2; k++ {
				if p[k] < lo[k]-eps || p[k] > hi[k]+eps {
					t.Errorf("trial %d prefix %d axis %d: %v outside [%v, %v]", trial, i, k, p[k], lo[k], hi[k])
				}
			}
		}
	}
}

func TestPredictUniformAttentionIsCandidateMean(t *testing.T) {
	backend := newBackend(t)
	cfg := testConfig()
	// All-zero parameters give every trajectory the same zero representation.
	cfg.PrefixEncoder.Init = InitConfig{Weights: "gaussian"}
	cfg.CandidateEncoder.Init = InitConfig{Weights: "gaussian"}
	cfg.NormalizeRepresentation = false

	m, err := New(context.New(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := newPredictor(t, backend, m)

	rng := rand.New(rand.NewSource(21))
	prefixes := [][][2]float32{randomPath(rng, 3), randomPath(rng, 6)}
	candidates := [][][2]float32{randomPath(rng, 4), randomPath(rng, 7), randomPath(rng, 2)}

	var want [2]float64
	for _, c := range candidates {
		last := c[len(c)-1]
		want[0] += float64(last[0]) / float64(len(candidates))
		want[1] += float64(last[1]) / float64(len(candidates))
	}

	preds, err := p.Predict(merge(trajectories("", prefixes, 6), trajectories(CandidatePrefix, candidates, 7)))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(preds) != len(prefixes) {
		t.Fatalf("got %d predictions, want %d", len(preds), len(prefixes))
	}
	for i, pred := range preds {
		for k := 0; k < 2; k++ {
			if math.Abs(float64(pred[k])-want[k]) > 1e-4 {
				t.Errorf("prediction %d axis %d: got %v want %v", i, k, pred[k], want[k])
			}
		}
	}
}

func TestCostZeroAtGroundTruth(t *testing.T) {
	backend := newBackend(t)
	m, err := New(context.New(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := newPredictor(t, backend, m)

	rng := rand.New(rand.NewSource(8))
	candidate := randomPath(rng, 5)
	dest := candidate[len(candidate)-1]
	prefixes := [][][2]float32{randomPath(rng, 2), randomPath(rng, 3)}

	inputs := merge(
		trajectories("", prefixes, 3),
		trajectories(CandidatePrefix, [][][2]float32{candidate}, 5),
		map[string]*tensors.Tensor{
			DestinationLatitudeKey:  tensors.FromAnyValue([]float32{dest[0], dest[0]}),
			DestinationLongitudeKey: tensors.FromAnyValue([]float32{dest[1], dest[1]}),
		},
	)
	cost, err := p.Cost(inputs)
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != 0 {
		t.Errorf("cost = %v, want 0 when the only candidate ends at the destination", cost)
	}
}

func TestErdist(t *testing.T) {
	backend := newBackend(t)
	exec := graph.MustNewExec(backend, Erdist)
	a := [][]float32{{41.15, -8.61}, {41.15, -8.61}, {41.15, -8.61}}
	b := [][]float32{{41.15, -8.61}, {41.16, -8.61}, {41.15, -8.60}}
	got := exec.MustExec(tensors.FromAnyValue(a), tensors.FromAnyValue(b))[0].Value().([]float32)

	rad := math.Pi / 180
	want := []float64{
		0,
		0.01 * rad * EarthRadius,
		0.01 * rad * math.Cos(41.15*rad) * EarthRadius,
	}
	for i := range want {
		if math.Abs(float64(got[i])-want[i]) > 1e-3 {
			t.Errorf("erdist[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestInputsDeclaration(t *testing.T) {
	m, err := New(context.New(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wantPrefix := []string{"day_of_week", "latitude", "longitude", "latitude_mask"}
	if got := m.PrefixEncoder().Inputs(); !reflect.DeepEqual(got, wantPrefix) {
		t.Errorf("encoder inputs = %v, want %v", got, wantPrefix)
	}
	wantModel := append(append([]string{}, wantPrefix...),
		"candidate_day_of_week", "candidate_latitude", "candidate_longitude", "candidate_latitude_mask")
	if got := m.Inputs(); !reflect.DeepEqual(got, wantModel) {
		t.Errorf("model inputs = %v, want %v", got, wantModel)
	}
	wantCost := append(append([]string{}, wantModel...), "destination_latitude", "destination_longitude")
	if got := m.CostInputs(); !reflect.DeepEqual(got, wantCost) {
		t.Errorf("cost inputs = %v, want %v", got, wantCost)
	}
}

func TestShareEncoders(t *testing.T) {
	cfg := testConfig()
	cfg.CandidateEncoder.Embeddings = []EmbeddingSpec{{Name: "qhour_of_day", Vocab: 96, Dim: 2}}

	m, err := New(context.New(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.CandidateEncoder() == m.PrefixEncoder() {
		t.Fatalf("separate encoders expected by default")
	}
	if got := m.Inputs()[4]; got != "candidate_qhour_of_day" {
		t.Errorf("first candidate input = %q, want candidate_qhour_of_day", got)
	}

	cfg.ShareEncoders = true
	shared, err := New(context.New(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if shared.CandidateEncoder() != shared.PrefixEncoder() {
		t.Fatalf("ShareEncoders should route candidates through the prefix encoder")
	}
	if got := shared.Inputs()[4]; got != "candidate_day_of_week" {
		t.Errorf("first candidate input = %q, want candidate_day_of_week", got)
	}
}

func TestPredictorMissingInput(t *testing.T) {
	backend := newBackend(t)
	m, err := New(context.New(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := newPredictor(t, backend, m)

	inputs := trajectories("", [][][2]float32{{{41.15, -8.61}}}, 1)
	_, err = p.Predict(inputs)
	if !errors.Is(err, ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rec state", func(c *Config) { c.PrefixEncoder.RecStateDim = 0 }},
		{"bad hidden", func(c *Config) { c.CandidateEncoder.DimHidden = []int{4, 0} }},
		{"zero representation", func(c *Config) { c.RepresentationSize = 0 }},
		{"unknown activation", func(c *Config) { c.RepresentationActivation = "softplus" }},
		{"unknown init", func(c *Config) { c.PrefixEncoder.Init.Weights = "orthogonal" }},
		{"zero std", func(c *Config) { c.Normalization.LonStd = 0 }},
		{"embedding collides", func(c *Config) {
			c.PrefixEncoder.Embeddings = []EmbeddingSpec{{Name: "latitude", Vocab: 3, Dim: 2}}
		}},
		{"duplicate embedding", func(c *Config) {
			c.PrefixEncoder.Embeddings = []EmbeddingSpec{{Name: "a", Vocab: 3, Dim: 2}, {Name: "a", Vocab: 3, Dim: 2}}
		}},
	}
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestInitializationPolicy(t *testing.T) {
	backend := newBackend(t)
	cfg := testConfig()
	cfg.PrefixEncoder.Init = InitConfig{Weights: "uniform", Scale: 0.05, Biases: 0.25}
	ctx := context.New()
	if _, err := New(ctx, cfg); err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx.InitializeVariables(backend)

	var weights, biases int
	for v := range ctx.IterVariables() {
		if !strings.HasPrefix(v.Scope(), "/prefix_encoder") {
			continue
		}
		values := tensors.CopyFlatData[float32](v.Value())
		switch v.Name() {
		case "biases":
			biases++
			for _, x := range values {
				if math.Abs(float64(x)-0.25) > 1e-6 {
					t.Fatalf("%s: bias %v, want 0.25", v.ScopeAndName(), x)
				}
			}
		case "initial_state", "initial_cells":
			for _, x := range values {
				if x != 0 {
					t.Fatalf("%s: initial value %v, want 0", v.ScopeAndName(), x)
				}
			}
		default:
			weights++
			var nonZero bool
			for _, x := range values {
				if math.Abs(float64(x)) > 0.05+1e-6 {
					t.Fatalf("%s: weight %v outside [-0.05, 0.05]", v.ScopeAndName(), x)
				}
				nonZero = nonZero || x != 0
			}
			if !nonZero {
				t.Errorf("%s: all weights are zero", v.ScopeAndName())
			}
		}
	}
	if weights == 0 || biases == 0 {
		t.Fatalf("found %d weight and %d bias variables under the prefix encoder", weights, biases)
	}
}

func TestSeedMakesInitializationReproducible(t *testing.T) {
	backend := newBackend(t)
	inputs := trajectories("", [][][2]float32{randomPath(rand.New(rand.NewSource(4)), 6)}, 6)

	represent := func(seed int64) []float32 {
		cfg := testConfig()
		cfg.Seed = seed
		m, err := New(context.New(), cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		reps, err := newPredictor(t, backend, m).Represent(inputs)
		if err != nil {
			t.Fatalf("Represent: %v", err)
		}
		return reps[0]
	}

	a, b, c := represent(3), represent(3), represent(4)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same seed gave different representations: %v vs %v", a, b)
	}
	if reflect.DeepEqual(a, c) {
		t.Errorf("different seeds gave identical representations %v", a)
	}
}

func TestNewBackend(t *testing.T) {
	backend, err := NewBackend("go:parallelism=-1")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if backend == nil {
		t.Fatal("nil backend")
	}
	if _, err := NewBackend("no-such-backend"); err == nil {
		t.Fatal("expected an error for an unregistered backend")
	}
}

func TestPredictorReportsShapeErrors(t *testing.T) {
	backend := newBackend(t)
	m, err := New(context.New(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := newPredictor(t, backend, m)

	inputs := trajectories("", [][][2]float32{randomPath(rand.New(rand.NewSource(2)), 3)}, 3)
	inputs[MaskKey] = tensors.FromAnyValue([][]float32{{1, 1, 1, 0}})
	if _, err := p.Represent(inputs); err == nil {
		t.Fatal("expected an error for a mask wider than the coordinates")
	}
}
