package catalog

import (
	"bytes"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// CellLineSpec describes one cell line's baseline physiology.
type CellLineSpec struct {
	ID                   string             `yaml:"id"`
	BaselineGrowthPerH   float64            `yaml:"baseline_growth_per_h"`
	VesselCapacityDensity float64           `yaml:"vessel_capacity_density"` // cells per uL at confluence 1
	InitialMixtures      map[string]SubpopulationMixture `yaml:"initial_mixtures"` // stress axis -> mixture
}

// CompoundRule is one catalog-driven validation expression, compiled
// once at load time via expr-lang/expr and evaluated by the "full"
// design-bridge validator (spec §9 open question: thresholds are
// catalog-driven, not hardcoded).
type CompoundRule struct {
	Expression string `yaml:"expression"`
	Message    string `yaml:"message"`

	compiled *vm.Program
}

// RuleEnv is the variable environment exposed to a CompoundRule
// expression.
type RuleEnv struct {
	DoseUM     float64 `expr:"dose_uM"`
	TimepointH float64 `expr:"timepoint_h"`
}

// Compile compiles the rule's expression once. Safe to call multiple
// times; idempotent.
func (r *CompoundRule) Compile() error {
	if r.compiled != nil {
		return nil
	}
	program, err := expr.Compile(r.Expression, expr.Env(RuleEnv{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("compiling compound rule %q: %w", r.Expression, err)
	}
	r.compiled = program
	return nil
}

// Evaluate runs the compiled rule against env, returning true if the
// condition holds (i.e. the dose/timepoint combination is acceptable).
func (r *CompoundRule) Evaluate(env RuleEnv) (bool, error) {
	if err := r.Compile(); err != nil {
		return false, err
	}
	out, err := expr.Run(r.compiled, env)
	if err != nil {
		return false, fmt.Errorf("evaluating compound rule %q: %w", r.Expression, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// CompoundSpec describes one compound's pharmacology and catalog-driven
// validation rules.
type CompoundSpec struct {
	ID               string         `yaml:"id"`
	EffectiveIC50UM  float64        `yaml:"effective_ic50_um"`
	DecayKPerH       float64        `yaml:"decay_k_per_h"`
	AdsorbedFraction float64        `yaml:"adsorbed_fraction"`
	MaxDoseUM        float64        `yaml:"max_dose_um"`
	Rules            []CompoundRule `yaml:"rules"`
}

// VesselSpec describes one vessel format's physical capacity.
type VesselSpec struct {
	ID             string  `yaml:"id"`
	Format         string  `yaml:"format"` // e.g. "96-well"
	InitialVolumeUL float64 `yaml:"initial_volume_ul"`
	EvapRatePerH   float64 `yaml:"evap_rate_per_h"`
	PlateCapacity  int     `yaml:"plate_capacity"` // max wells per plate
}

// PricingSpec gives a per-assay or per-well cost, surfaced for cost
// accounting in the epistemic controller's cost-inflation mechanism.
type PricingSpec struct {
	ID       string  `yaml:"id"`
	CostUSD  float64 `yaml:"cost_usd"`
}

// Catalogs bundles the four immutable catalogs loaded once at run start.
// Nothing outside this package may mutate them after Load returns; all
// accessors are read-only lookups.
type Catalogs struct {
	cellLines map[string]CellLineSpec
	compounds map[string]CompoundSpec
	vessels   map[string]VesselSpec
	pricing   map[string]PricingSpec
}

// rawCatalogFile mirrors the on-disk YAML shape. Unknown top-level keys
// are rejected by the decoder's KnownFields(true) setting in Load (spec
// §9: explicit configuration records
// with enumerated recognized options, not dynamic dicts).
type rawCatalogFile struct {
	CellLines []CellLineSpec `yaml:"cell_lines"`
	Compounds []CompoundSpec `yaml:"compounds"`
	Vessels   []VesselSpec   `yaml:"vessels"`
	Pricing   []PricingSpec  `yaml:"pricing"`
}

// Load parses a catalog YAML document into an immutable Catalogs value,
// compiling every compound rule up front so load-time errors surface
// before the run starts rather than mid-campaign.
func Load(data []byte) (*Catalogs, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw rawCatalogFile
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	c := &Catalogs{
		cellLines: make(map[string]CellLineSpec, len(raw.CellLines)),
		compounds: make(map[string]CompoundSpec, len(raw.Compounds)),
		vessels:   make(map[string]VesselSpec, len(raw.Vessels)),
		pricing:   make(map[string]PricingSpec, len(raw.Pricing)),
	}

	for _, cl := range raw.CellLines {
		c.cellLines[cl.ID] = cl
	}
	for _, cp := range raw.Compounds {
		for i := range cp.Rules {
			if err := cp.Rules[i].Compile(); err != nil {
				return nil, fmt.Errorf("compound %s: %w", cp.ID, err)
			}
		}
		c.compounds[cp.ID] = cp
	}
	for _, v := range raw.Vessels {
		c.vessels[v.ID] = v
	}
	for _, p := range raw.Pricing {
		c.pricing[p.ID] = p
	}

	return c, nil
}

// CellLine looks up a cell line by id.
func (c *Catalogs) CellLine(id string) (CellLineSpec, bool) {
	v, ok := c.cellLines[id]
	return v, ok
}

// Compound looks up a compound by id.
func (c *Catalogs) Compound(id string) (CompoundSpec, bool) {
	v, ok := c.compounds[id]
	return v, ok
}

// Vessel looks up a vessel format by id.
func (c *Catalogs) Vessel(id string) (VesselSpec, bool) {
	v, ok := c.vessels[id]
	return v, ok
}

// Pricing looks up a pricing entry by id.
func (c *Catalogs) Pricing(id string) (PricingSpec, bool) {
	v, ok := c.pricing[id]
	return v, ok
}
