package model

import (
	"errors"
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gopjrt/dtypes"
)

// ErrInvalidConfig is returned when a Config or EncoderConfig is incomplete.
var ErrInvalidConfig = errors.New("invalid model config")

// EmbeddingSpec describes one categorical context feature: the input name it
// is read from, the vocabulary size of its table and the embedding width.
type EmbeddingSpec struct {
	Name  string
	Vocab int
	Dim   int
}

// InitConfig is the weight/bias initialization policy handed down to every
// parameter an encoder owns.
type InitConfig struct {
	// Weights selects the weight distribution: "gaussian" (zero mean, Scale
	// as standard deviation), "uniform" (in [-Scale, Scale]) or "glorot"
	// (Glorot uniform, Scale multiplies the limit).
	Weights string

	// Scale parameterizes Weights. A zero scale makes every weight zero.
	Scale float64

	// Biases is the constant every bias starts at.
	Biases float64
}

// EncoderConfig configures one RecurrentEncoder.
type EncoderConfig struct {
	// RecStateDim is the hidden size of each LSTM direction.
	RecStateDim int

	// DimHidden lists the rectified hidden layer widths of the feed-forward
	// net that follows the recurrent summary. May be empty.
	DimHidden []int

	// Embeddings lists the context features concatenated to the summary.
	Embeddings []EmbeddingSpec

	Init InitConfig
}

// GPSStats holds the population statistics used to standardize coordinates.
// They are fixed values computed ahead of time, never estimated per batch.
type GPSStats struct {
	LatMean float64
	LonMean float64
	LatStd  float64
	LonStd  float64
}

// Config configures a Model. Every field must be set; this layer defines no
// defaults.
type Config struct {
	PrefixEncoder    EncoderConfig
	CandidateEncoder EncoderConfig

	// RepresentationSize is the output dim of both encoders.
	RepresentationSize int

	// RepresentationActivation is applied on the last feed-forward layer.
	RepresentationActivation Activation

	// NormalizeRepresentation L2-normalizes candidate representations before
	// scoring (cosine mode). Otherwise raw dot products are used.
	NormalizeRepresentation bool

	// ShareEncoders routes candidates through the prefix encoder, so the
	// candidate encoder's parameters go unused.
	ShareEncoders bool

	Normalization GPSStats

	// Seed starts the context's random number generator, which draws every
	// initial weight of both encoders. It is ignored when the context
	// already carries a generator state, e.g. one loaded from a checkpoint.
	Seed int64
}

// Validate reports the first missing or inconsistent field.
func (c EncoderConfig) Validate() error {
	if c.RecStateDim <= 0 {
		return fmt.Errorf("%w: rec_state_dim must be > 0, got %d", ErrInvalidConfig, c.RecStateDim)
	}
	for i, h := range c.DimHidden {
		if h <= 0 {
			return fmt.Errorf("%w: dim_hidden[%d] must be > 0, got %d", ErrInvalidConfig, i, h)
		}
	}
	seen := make(map[string]bool, len(c.Embeddings))
	for _, e := range c.Embeddings {
		if e.Name == "" || e.Vocab <= 0 || e.Dim <= 0 {
			return fmt.Errorf("%w: bad embedding %+v", ErrInvalidConfig, e)
		}
		if seen[e.Name] {
			return fmt.Errorf("%w: duplicate embedding %q", ErrInvalidConfig, e.Name)
		}
		for _, r := range recurrentInputs {
			if e.Name == r {
				return fmt.Errorf("%w: embedding name %q collides with a trajectory input", ErrInvalidConfig, e.Name)
			}
		}
		seen[e.Name] = true
	}
	switch c.Init.Weights {
	case "gaussian", "uniform", "glorot":
	default:
		return fmt.Errorf("%w: unknown weights init %q", ErrInvalidConfig, c.Init.Weights)
	}
	if c.Init.Scale < 0 {
		return fmt.Errorf("%w: init scale must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Validate checks both encoder configs and the shared fields.
func (c Config) Validate() error {
	if err := c.PrefixEncoder.Validate(); err != nil {
		return fmt.Errorf("prefix encoder: %w", err)
	}
	if err := c.CandidateEncoder.Validate(); err != nil {
		return fmt.Errorf("candidate encoder: %w", err)
	}
	if c.RepresentationSize <= 0 {
		return fmt.Errorf("%w: representation_size must be > 0", ErrInvalidConfig)
	}
	if _, err := ParseActivation(string(c.RepresentationActivation)); err != nil {
		return err
	}
	n := c.Normalization
	if n.LatStd <= 0 || n.LonStd <= 0 {
		return fmt.Errorf("%w: gps std must be > 0, got (%v, %v)", ErrInvalidConfig, n.LatStd, n.LonStd)
	}
	return nil
}

// weightsInitializer maps Weights and Scale onto a gomlx initializer. Values
// are drawn from the random number generator of ctx.
func (c InitConfig) weightsInitializer(ctx *context.Context) context.VariableInitializer {
	switch c.Weights {
	case "gaussian":
		return initializers.RandomNormalFn(ctx, c.Scale)
	case "uniform":
		return initializers.RandomUniformFn(ctx, -c.Scale, c.Scale)
	default:
		glorot := initializers.GlorotUniformFn(ctx)
		return func(g *graph.Graph, shape shapes.Shape) *graph.Node {
			return graph.MulScalar(glorot(g, shape), c.Scale)
		}
	}
}

// biasesInitializer fills every bias with the constant Biases.
func (c InitConfig) biasesInitializer() context.VariableInitializer {
	return func(g *graph.Graph, shape shapes.Shape) *graph.Node {
		return graph.AddScalar(graph.Zeros(g, shape), c.Biases)
	}
}

// weightVariable creates a float32 weight under ctx. Its value is drawn the
// first time the context's variables are initialized.
func weightVariable(ctx *context.Context, init InitConfig, name string, dims ...int) *context.Variable {
	return ctx.WithInitializer(init.weightsInitializer(ctx)).
		VariableWithShape(name, shapes.Make(dtypes.Float32, dims...))
}

func biasVariable(ctx *context.Context, init InitConfig, name string, dims ...int) *context.Variable {
	return ctx.WithInitializer(init.biasesInitializer()).
		VariableWithShape(name, shapes.Make(dtypes.Float32, dims...))
}

func zeroVariable(ctx *context.Context, name string, dims ...int) *context.Variable {
	return ctx.WithInitializer(initializers.Zero).
		VariableWithShape(name, shapes.Make(dtypes.Float32, dims...))
}
