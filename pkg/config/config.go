package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/cyclopcam/propeval/pkg/dbh"
	"github.com/cyclopcam/propeval/pkg/flow"
	"github.com/cyclopcam/propeval/pkg/kalman"
	"github.com/cyclopcam/propeval/pkg/match"
	"github.com/cyclopcam/propeval/pkg/proposals"
	"github.com/cyclopcam/propeval/pkg/scoring"
	"github.com/cyclopcam/propeval/pkg/similarity"
	"github.com/cyclopcam/propeval/pkg/taxonomy"
	"gopkg.in/yaml.v3"
)

type FlowConfig struct {
	Aggregate string  `yaml:"aggregate"` // "mean" or "median"
	MinIOU    float64 `yaml:"minIOU"`    // Warped box must overlap the chosen proposal by more than this
	CacheSize int     `yaml:"cacheSize"` // Number of decoded flow fields kept in memory
}

type KalmanConfig struct {
	PositionNoise    float64 `yaml:"positionNoise"`
	VelocityNoise    float64 `yaml:"velocityNoise"`
	MeasurementNoise float64 `yaml:"measurementNoise"`
	InitialVelocity  float64 `yaml:"initialVelocity"`
	GateIOU          float64 `yaml:"gateIOU"`
	MaxMisses        int     `yaml:"maxMisses"`
	HistorySize      int     `yaml:"historySize"`
}

type Config struct {
	DataSource            string       `yaml:"dataSource"`            // eg ArgoVerse
	GroundTruthFile       string       `yaml:"groundTruth"`           // TAO annotation JSON
	ProposalDir           string       `yaml:"proposals"`             // <dir>/<video>/<frame>.json
	FlowDir               string       `yaml:"flow"`                  // <dir>/<video>/<frame>.png or .flo
	ImageDir              string       `yaml:"images"`                // Passed through to strategies
	OutputDir             string       `yaml:"output"`                // <dir>/<video>.json
	ManifestFile          string       `yaml:"manifest"`              // Defaults to <proposals>/val_annotated_<dataSource>.txt
	KnownFile             string       `yaml:"known"`                 // coco_id2tao_id.json
	NeighborFile          string       `yaml:"neighbor"`              // neighbor_classes.json
	MaxCategoryID         int          `yaml:"maxCategoryID"`         // Categories are 1..MaxCategoryID
	Strategy              string       `yaml:"strategy"`              // flow or kalman
	UseIntermediateFrames bool         `yaml:"intermediate"`          // Strategies may look at frames between the annotated pair
	Workers               int          `yaml:"workers"`               // Videos evaluated in parallel
	AreaPolicy            string       `yaml:"areaPolicy"`            // literal or squared
	MatchPolicy           string       `yaml:"matchPolicy"`           // greedy or one-to-one
	ProposalCacheFrames   int          `yaml:"proposalCacheFrames"`   // Per video
	BoxSource             string       `yaml:"boxSource"`             // bbox or mask
	Progress              bool         `yaml:"progress"`              // Show a progress bar
	Flow                  FlowConfig   `yaml:"flowWarp"`
	Kalman                KalmanConfig `yaml:"kalman"`
	DB                    dbh.DBConfig `yaml:"db"`
}

// Default returns a config with every optional field populated
func Default() *Config {
	opt := similarity.DefaultOptions()
	return &Config{
		MaxCategoryID:         taxonomy.DefaultMaxCategoryID,
		Strategy:              similarity.NameFlow,
		UseIntermediateFrames: true,
		Workers:               runtime.NumCPU(),
		AreaPolicy:            scoring.AreaLiteral.String(),
		MatchPolicy:           match.PolicyGreedy.String(),
		ProposalCacheFrames:   64,
		BoxSource:             proposals.BoxRegressed.String(),
		Progress:              true,
		Flow: FlowConfig{
			Aggregate: "mean",
			MinIOU:    opt.FlowMinIOU,
			CacheSize: opt.FlowCacheSize,
		},
		Kalman: KalmanConfig{
			PositionNoise:    opt.Kalman.PositionNoise,
			VelocityNoise:    opt.Kalman.VelocityNoise,
			MeasurementNoise: opt.Kalman.MeasurementNoise,
			InitialVelocity:  opt.Kalman.InitialVelocity,
			GateIOU:          opt.GateIOU,
			MaxMisses:        opt.MaxMisses,
			HistorySize:      opt.HistorySize,
		},
	}
}

// Load reads a YAML config file on top of the defaults.
// Unknown keys are an error, so that typos don't silently fall back to defaults.
func Load(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("Error loading as YAML %v: %w", filename, err)
	}
	return cfg, nil
}

func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// Manifest returns the manifest filename, defaulting to the one inside the proposal directory
func (c *Config) Manifest() string {
	if c.ManifestFile != "" {
		return c.ManifestFile
	}
	return proposals.ManifestPathFor(c.ProposalDir, c.DataSource)
}

// Validate checks that every required field is present and every enum parses
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"dataSource", c.DataSource},
		{"groundTruth", c.GroundTruthFile},
		{"proposals", c.ProposalDir},
		{"output", c.OutputDir},
		{"known", c.KnownFile},
		{"neighbor", c.NeighborFile},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%v must be specified", r.name)
		}
	}
	if c.Strategy == similarity.NameFlow && c.FlowDir == "" {
		return fmt.Errorf("flow must be specified for the %v strategy", similarity.NameFlow)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1 (not %v)", c.Workers)
	}
	if c.MaxCategoryID < 1 {
		return fmt.Errorf("maxCategoryID must be at least 1 (not %v)", c.MaxCategoryID)
	}
	if c.ProposalCacheFrames < 2 {
		return fmt.Errorf("proposalCacheFrames must be at least 2 (not %v)", c.ProposalCacheFrames)
	}
	if _, err := similarity.New(c.Strategy, similarity.DefaultOptions()); err != nil {
		return err
	}
	if _, err := c.ParsedAreaPolicy(); err != nil {
		return err
	}
	if _, err := c.ParsedMatchPolicy(); err != nil {
		return err
	}
	if _, err := proposals.ParseBoxSource(c.BoxSource); err != nil {
		return err
	}
	if _, err := c.StrategyOptions(); err != nil {
		return err
	}
	return c.DB.Validate()
}

func (c *Config) ParsedAreaPolicy() (scoring.AreaPolicy, error) {
	return scoring.ParseAreaPolicy(c.AreaPolicy)
}

func (c *Config) ParsedMatchPolicy() (match.Policy, error) {
	return match.ParsePolicy(c.MatchPolicy)
}

// StrategyOptions converts the strategy sections into similarity.Options
func (c *Config) StrategyOptions() (similarity.Options, error) {
	agg, err := flow.ParseAggregate(c.Flow.Aggregate)
	if err != nil {
		return similarity.Options{}, err
	}
	if c.Kalman.HistorySize < 1 {
		return similarity.Options{}, fmt.Errorf("kalman.historySize must be at least 1")
	}
	return similarity.Options{
		FlowAggregate: agg,
		FlowMinIOU:    c.Flow.MinIOU,
		FlowCacheSize: c.Flow.CacheSize,
		Kalman: kalman.Params{
			PositionNoise:    c.Kalman.PositionNoise,
			VelocityNoise:    c.Kalman.VelocityNoise,
			MeasurementNoise: c.Kalman.MeasurementNoise,
			InitialVelocity:  c.Kalman.InitialVelocity,
		},
		GateIOU:     c.Kalman.GateIOU,
		MaxMisses:   c.Kalman.MaxMisses,
		HistorySize: c.Kalman.HistorySize,
	}, nil
}
