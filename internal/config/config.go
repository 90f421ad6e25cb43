// Package config loads a campaign's typed configuration record. It
// replaces the teacher's env-var-keyed struct with a YAML document,
// strictly decoded so an unrecognized key is a load-time error rather
// than a silently ignored one (spec §9's closed-vocabulary preference),
// plus an optional .env overlay for a small set of deployment knobs.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/epistemic-labs/biovm/pkg/beam"
)

// knownTopLevelKeys is the closed set CampaignConfig recognizes. Any
// other top-level key in the YAML document is a load-time error.
var knownTopLevelKeys = map[string]bool{
	"run_id": true, "seed": true, "artifact_root": true,
	"catalog_path": true, "cell_line_id": true, "vessel_format_id": true,
	"compound_id": true, "base_dose_um": true, "beam_width": true,
	"well_positions": true, "beam": true, "log_level": true,
	"log_format": true, "metrics_addr": true,
}

// BeamConfig mirrors the planner's tunable knobs in a YAML-friendly
// shape; ToBeamConfig converts it to pkg/beam.Config.
type BeamConfig struct {
	RoundDurationH      float64   `yaml:"round_duration_h"`
	MaxInterventions    int       `yaml:"max_interventions"`
	CommitConfThreshold float64   `yaml:"commit_conf_threshold"`
	DoseLevels          []float64 `yaml:"dose_levels"`
	DecayKPerH          float64   `yaml:"decay_k_per_h"`
	AdsorbedFraction    float64   `yaml:"adsorbed_fraction"`
	Workers             int       `yaml:"workers"`
}

// ToBeamConfig overlays non-zero fields onto the planner's documented
// defaults.
func (b BeamConfig) ToBeamConfig() beam.Config {
	cfg := beam.DefaultConfig()
	if b.RoundDurationH > 0 {
		cfg.RoundDurationH = b.RoundDurationH
	}
	if b.MaxInterventions > 0 {
		cfg.MaxInterventions = b.MaxInterventions
	}
	if b.CommitConfThreshold > 0 {
		cfg.CommitConfThreshold = b.CommitConfThreshold
	}
	if len(b.DoseLevels) > 0 {
		cfg.DoseLevels = b.DoseLevels
	}
	if b.DecayKPerH > 0 {
		cfg.DecayKPerH = b.DecayKPerH
	}
	if b.AdsorbedFraction > 0 {
		cfg.AdsorbedFraction = b.AdsorbedFraction
	}
	if b.Workers > 0 {
		cfg.Workers = b.Workers
	}
	return cfg
}

// CampaignConfig is the typed, strictly-decoded campaign record loaded
// from the path passed to `run --config`.
type CampaignConfig struct {
	RunID          string     `yaml:"run_id"`
	Seed           int64      `yaml:"seed"`
	ArtifactRoot   string     `yaml:"artifact_root"`
	CatalogPath    string     `yaml:"catalog_path"`
	CellLineID     string     `yaml:"cell_line_id"`
	VesselFormatID string     `yaml:"vessel_format_id"`
	CompoundID     string     `yaml:"compound_id"`
	BaseDoseUM     float64    `yaml:"base_dose_um"`
	BeamWidth      int        `yaml:"beam_width"`
	WellPositions  []string   `yaml:"well_positions"`
	Beam           BeamConfig `yaml:"beam"`
	LogLevel       string     `yaml:"log_level"`
	LogFormat      string     `yaml:"log_format"`
	MetricsAddr    string     `yaml:"metrics_addr"`
}

// UnmarshalYAML rejects unrecognized top-level keys before delegating to
// the field-by-field default decode, mirroring a KnownFields(true)
// decoder at the document root.
func (c *CampaignConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("config: expected a mapping at document root")
	}
	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i].Value
		if !knownTopLevelKeys[key] {
			return fmt.Errorf("config: unrecognized key %q", key)
		}
	}

	type plain CampaignConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = CampaignConfig(p)
	return nil
}

// Load reads and strictly decodes a CampaignConfig from path.
func Load(path string) (*CampaignConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg CampaignConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.BeamWidth <= 0 {
		cfg.BeamWidth = 6
	}
	if len(cfg.WellPositions) == 0 {
		cfg.WellPositions = DefaultWellPositions()
	}
	return &cfg, nil
}

// DefaultWellPositions enumerates a standard 96-well plate's positions in
// row-major order, used when a campaign config omits well_positions.
func DefaultWellPositions() []string {
	rows := []byte("ABCDEFGH")
	out := make([]string, 0, 96)
	for _, row := range rows {
		for col := 1; col <= 12; col++ {
			out = append(out, fmt.Sprintf("%c%02d", row, col))
		}
	}
	return out
}

// Overlay is the small set of deployment knobs loadable from a .env
// file via godotenv, exactly as the teacher's cmd/cli/main.go does.
type Overlay struct {
	GitSHA       string
	DefaultSeed  int64
	ArtifactRoot string
}

// LoadOverlay loads an optional .env file at path (missing file is not
// an error) and returns the overlay values it defines.
func LoadOverlay(path string) (Overlay, error) {
	var overlay Overlay
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return overlay, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return overlay, fmt.Errorf("config: reading env overlay %s: %w", path, err)
	}
	overlay.GitSHA = env["GIT_SHA"]
	overlay.ArtifactRoot = env["ARTIFACT_ROOT"]
	if s, ok := env["DEFAULT_SEED"]; ok {
		var seed int64
		if _, err := fmt.Sscanf(s, "%d", &seed); err == nil {
			overlay.DefaultSeed = seed
		}
	}
	return overlay, nil
}
