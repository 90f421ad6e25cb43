// Package designbridge expands a research proposal into an executable
// Design, validates it through three escalating layers (struct-tag
// mechanics, business rules, catalog-driven expression rules), computes
// its execution-relevant hash, and persists accepted or rejected designs
// to the on-disk artifact layout. Grounded on the teacher's builder
// pattern (pkg/workflow/builder.go) for deterministic expansion and its
// validator/v10 usage for the mechanical pass.
package designbridge

// WellSpec is one line item of a Proposal: a requested condition before
// plate/well assignment.
type WellSpec struct {
	CellLine   string  `json:"cell_line" validate:"required"`
	Compound   string  `json:"compound" validate:"required"`
	DoseUM     float64 `json:"dose_uM" validate:"gte=0"`
	TimepointH float64 `json:"timepoint_h" validate:"gt=0"`
}

// Proposal is an experiment intent emitted by the agent loop's planner,
// not yet expanded into plate/well assignments.
type Proposal struct {
	DesignID   string     `json:"design_id" validate:"required"`
	Hypothesis string     `json:"hypothesis" validate:"required"`
	Wells      []WellSpec `json:"wells" validate:"required,min=1,dive"`
}

// ScaffoldMetadata describes the frozen sentinel specification a design
// must match.
type ScaffoldMetadata struct {
	ScaffoldID      string   `json:"scaffold_id"`
	ScaffoldVersion string   `json:"scaffold_version"`
	ScaffoldHash    string   `json:"scaffold_hash"`
	ScaffoldSize    int      `json:"scaffold_size"`
	ScaffoldTypes   []string `json:"scaffold_types"`
}

// SentinelSchema wraps the scaffold metadata inside Design.Metadata, per
// the accepted schema in spec §6.
type SentinelSchema struct {
	ScaffoldMetadata ScaffoldMetadata `json:"scaffold_metadata"`
}

// DesignMetadata carries provenance fields excluded from the execution
// hash.
type DesignMetadata struct {
	RunID          string         `json:"run_id"`
	Cycle          int            `json:"cycle"`
	GitSHA         string         `json:"git_sha,omitempty"`
	SentinelSchema SentinelSchema `json:"sentinel_schema"`
}

// Well is one fully expanded well assignment within a Design.
type Well struct {
	CellLine     string  `json:"cell_line" validate:"required"`
	Compound     string  `json:"compound" validate:"required"`
	DoseUM       float64 `json:"dose_uM" validate:"gte=0"`
	TimepointH   float64 `json:"timepoint_h" validate:"gt=0"`
	WellPos      string  `json:"well_pos" validate:"required"`
	PlateID      string  `json:"plate_id" validate:"required"`
	Day          int     `json:"day"`
	Operator     string  `json:"operator" validate:"required"`
	IsSentinel   bool    `json:"is_sentinel"`
	SentinelType string  `json:"sentinel_type,omitempty"`
}

// Design is the fully expanded, executable experiment specification.
type Design struct {
	DesignID    string         `json:"design_id" validate:"required"`
	DesignType  string         `json:"design_type" validate:"required"`
	Description string         `json:"description"`
	Metadata    DesignMetadata `json:"metadata"`
	Wells       []Well         `json:"wells" validate:"required,min=1,dive"`
}

// ValidatorMode names how strict the validation pass should be.
// "placeholder" skips catalog-driven expr rules (used before catalogs
// are fully loaded); "full" runs every layer.
type ValidatorMode string

const (
	ValidatorPlaceholder ValidatorMode = "placeholder"
	ValidatorFull        ValidatorMode = "full"
)
