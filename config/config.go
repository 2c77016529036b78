// Package config loads the layered configuration of the compare command:
// built-in defaults, then an optional YAML file, then TAXIDEST_ environment
// variables.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/Noofbiz/taxiDest/model"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore: TAXIDEST_MODEL__REPRESENTATION_SIZE=64.
const EnvPrefix = "TAXIDEST_"

// ConfigPathEnvVar may point at the YAML file when no path is passed.
const ConfigPathEnvVar = "TAXIDEST_CONFIG"

// DefaultConfigPaths are searched in order when neither a path nor
// TAXIDEST_CONFIG is given.
var DefaultConfigPaths = []string{"taxidest.yaml", "taxidest.yml"}

type Config struct {
	Logging  LoggingConfig  `koanf:"logging"`
	Data     DataConfig     `koanf:"data"`
	Model    ModelConfig    `koanf:"model"`
	KNN      KNNConfig      `koanf:"knn"`
	MLP      MLPConfig      `koanf:"mlp"`
	Evaluate EvaluateConfig `koanf:"evaluate"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// DataConfig locates the trip CSVs.
type DataConfig struct {
	TrainPattern string `koanf:"train_pattern" validate:"required"`

	// ValidPattern holds held-out trips. When empty, ValidFraction of the
	// train trips is held out instead.
	ValidPattern  string  `koanf:"valid_pattern"`
	ValidFraction float64 `koanf:"valid_fraction" validate:"gte=0,lt=1"`

	// Cache loads every trip into memory after indexing.
	Cache bool `koanf:"cache"`
}

type EmbeddingConfig struct {
	Name  string `koanf:"name" validate:"required"`
	Vocab int    `koanf:"vocab" validate:"gt=0"`
	Dim   int    `koanf:"dim" validate:"gt=0"`
}

type EncoderConfig struct {
	RecStateDim  int               `koanf:"rec_state_dim" validate:"gt=0"`
	DimHidden    []int             `koanf:"dim_hidden" validate:"dive,gt=0"`
	Embeddings   []EmbeddingConfig `koanf:"embeddings" validate:"dive"`
	Weights      string            `koanf:"weights" validate:"oneof=gaussian uniform glorot"`
	WeightsScale float64           `koanf:"weights_scale" validate:"gte=0"`
	Biases       float64           `koanf:"biases"`
}

type ModelConfig struct {
	PrefixEncoder            EncoderConfig `koanf:"prefix_encoder"`
	CandidateEncoder         EncoderConfig `koanf:"candidate_encoder"`
	RepresentationSize       int           `koanf:"representation_size" validate:"gt=0"`
	RepresentationActivation string        `koanf:"representation_activation" validate:"oneof=identity tanh sigmoid relu"`
	NormalizeRepresentation  bool          `koanf:"normalize_representation"`
	ShareEncoders            bool          `koanf:"share_encoders"`

	// Seed starts the random number generator that draws initial weights.
	Seed int64 `koanf:"seed"`

	// GPSMean and GPSStd are (latitude, longitude) population statistics,
	// see `compare stats`.
	GPSMean []float64 `koanf:"gps_mean" validate:"len=2"`
	GPSStd  []float64 `koanf:"gps_std" validate:"len=2,dive,gt=0"`
}

// KNNConfig tunes the nearest-neighbour baseline.
type KNNConfig struct {
	K       int `koanf:"k" validate:"gt=0"`
	Sims    int `koanf:"sims" validate:"gt=0"`
	Workers int `koanf:"workers" validate:"gte=0"`
}

// MLPConfig tunes the first/last points MLP baseline.
type MLPConfig struct {
	Points       int     `koanf:"points" validate:"gt=0"`
	HiddenSizes  []int   `koanf:"hidden_sizes" validate:"dive,gt=0"`
	Optimizer    string  `koanf:"optimizer" validate:"oneof=adam sgd"`
	LearningRate float64 `koanf:"learning_rate" validate:"gt=0"`
	Epochs       int     `koanf:"epochs" validate:"gt=0"`
	BatchSize    int     `koanf:"batch_size" validate:"gt=0"`
	ClipNorm     float64 `koanf:"clip_norm" validate:"gte=0"`
	TrainTrips   int     `koanf:"train_trips" validate:"gt=0"`
}

type EvaluateConfig struct {
	Candidates int    `koanf:"candidates" validate:"gt=0"`
	Prefixes   int    `koanf:"prefixes" validate:"gt=0"`
	BatchSize  int    `koanf:"batch_size" validate:"gt=0"`
	Seed       int64  `koanf:"seed"`
	OutDir     string `koanf:"out_dir" validate:"required"`
	OutCSV     string `koanf:"out_csv"`

	// Backend selects the gomlx backend as "<name>:<options>". Empty defers to
	// $GOMLX_BACKEND.
	Backend string `koanf:"backend"`
}

func defaultEncoder() EncoderConfig {
	return EncoderConfig{
		RecStateDim: 100,
		DimHidden:   []int{100, 100},
		Embeddings: []EmbeddingConfig{
			{Name: "origin_call", Vocab: 57106, Dim: 10},
			{Name: "origin_stand", Vocab: 64, Dim: 10},
			{Name: "week_of_year", Vocab: 52, Dim: 10},
			{Name: "day_of_week", Vocab: 7, Dim: 10},
			{Name: "qhour_of_day", Vocab: 24 * 4, Dim: 10},
			{Name: "day_type", Vocab: 3, Dim: 10},
		},
		Weights:      "gaussian",
		WeightsScale: 0.01,
		Biases:       0.001,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Data: DataConfig{
			TrainPattern:  "assets/train*.csv",
			ValidFraction: 0.05,
			Cache:         true,
		},
		Model: ModelConfig{
			PrefixEncoder:            defaultEncoder(),
			CandidateEncoder:         defaultEncoder(),
			RepresentationSize:       100,
			RepresentationActivation: "tanh",
			NormalizeRepresentation:  true,
			GPSMean:                  []float64{41.15731, -8.61612},
			GPSStd:                   []float64{math.Sqrt(0.00549598), math.Sqrt(0.00333233)},
			Seed:                     1,
		},
		KNN: KNNConfig{K: 8, Sims: 60},
		MLP: MLPConfig{
			Points:       5,
			HiddenSizes:  []int{500},
			Optimizer:    "adam",
			LearningRate: 0.005,
			Epochs:       8,
			BatchSize:    32,
			ClipNorm:     5,
			TrainTrips:   5000,
		},
		Evaluate: EvaluateConfig{
			Candidates: 1000,
			Prefixes:   300,
			BatchSize:  50,
			Seed:       42,
			OutDir:     "plots",
			OutCSV:     "output/out.csv",
		},
	}
}

// Load merges defaults, the YAML file at path (or the one found through
// TAXIDEST_CONFIG / DefaultConfigPaths when path is empty) and environment
// overrides, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps TAXIDEST_MODEL__REPRESENTATION_SIZE to
// model.representation_size. The config path variable itself is skipped.
func envTransform(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

var validate = validator.New()

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := c.ModelConfig(); err != nil {
		return err
	}
	return nil
}

func (e EncoderConfig) model() model.EncoderConfig {
	embeddings := make([]model.EmbeddingSpec, len(e.Embeddings))
	for i, emb := range e.Embeddings {
		embeddings[i] = model.EmbeddingSpec{Name: emb.Name, Vocab: emb.Vocab, Dim: emb.Dim}
	}
	return model.EncoderConfig{
		RecStateDim: e.RecStateDim,
		DimHidden:   append([]int(nil), e.DimHidden...),
		Embeddings:  embeddings,
		Init: model.InitConfig{
			Weights: e.Weights,
			Scale:   e.WeightsScale,
			Biases:  e.Biases,
		},
	}
}

// ModelConfig converts the model section into a fully populated
// model.Config and validates it.
func (c *Config) ModelConfig() (model.Config, error) {
	m := c.Model
	if len(m.GPSMean) != 2 || len(m.GPSStd) != 2 {
		return model.Config{}, fmt.Errorf("%w: gps_mean and gps_std need two values", model.ErrInvalidConfig)
	}
	act, err := model.ParseActivation(m.RepresentationActivation)
	if err != nil {
		return model.Config{}, err
	}
	cfg := model.Config{
		PrefixEncoder:            m.PrefixEncoder.model(),
		CandidateEncoder:         m.CandidateEncoder.model(),
		RepresentationSize:       m.RepresentationSize,
		RepresentationActivation: act,
		NormalizeRepresentation:  m.NormalizeRepresentation,
		ShareEncoders:            m.ShareEncoders,
		Seed:                     m.Seed,
		Normalization: model.GPSStats{
			LatMean: m.GPSMean[0],
			LonMean: m.GPSMean[1],
			LatStd:  m.GPSStd[0],
			LonStd:  m.GPSStd[1],
		},
	}
	if err := cfg.Validate(); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

// Vocabularies maps each embedded feature name of the prefix encoder to its
// vocabulary size, for dataset feature bucketing.
func (c *Config) Vocabularies() map[string]int {
	v := make(map[string]int)
	for _, enc := range []EncoderConfig{c.Model.PrefixEncoder, c.Model.CandidateEncoder} {
		for _, e := range enc.Embeddings {
			if cur, ok := v[e.Name]; !ok || e.Vocab < cur {
				v[e.Name] = e.Vocab
			}
		}
	}
	return v
}
