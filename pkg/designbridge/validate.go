package designbridge

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/epistemic-labs/biovm/pkg/bioerrors"
	"github.com/epistemic-labs/biovm/pkg/catalog"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// wellPositionPattern matches the plate format's canonical well
// position string, e.g. "C05".
var wellPositionPattern = regexp.MustCompile(`^[A-H](0[1-9]|1[0-2])$`)

// Validate runs the three escalating layers described in spec §9: the
// mechanical struct-tag pass, the business-rule pass, and — only in
// ValidatorFull — the catalog-driven expr rule pass. The first failure
// encountered returns an InvalidDesignError; nothing partial is
// returned.
func Validate(design *Design, catalogs *catalog.Catalogs, mode ValidatorMode, expectedScaffold *ScaffoldMetadata) error {
	if len(design.Wells) == 0 {
		return rejected(design, "empty_design", bioerrors.ErrEmptyDesign.Error(), mode)
	}

	if err := structValidator.Struct(design); err != nil {
		return rejected(design, "struct_validation", err.Error(), mode)
	}

	for _, w := range design.Wells {
		if !wellPositionPattern.MatchString(w.WellPos) {
			return rejected(design, "bad_well_position", fmt.Sprintf("well position %q does not match plate format", w.WellPos), mode)
		}
	}

	if err := checkDuplicateWellPositions(design); err != nil {
		return rejected(design, "duplicate_well_positions", err.Error(), mode)
	}

	if expectedScaffold != nil {
		if err := checkScaffoldHash(design, *expectedScaffold); err != nil {
			return rejected(design, "scaffold_hash_mismatch", err.Error(), mode)
		}
	}

	if err := checkConditionMultisetEquality(design); err != nil {
		return rejected(design, "condition_multiset_mismatch", err.Error(), mode)
	}

	if mode == ValidatorFull && catalogs != nil {
		if err := checkCatalogRules(design, catalogs); err != nil {
			return rejected(design, "catalog_rule_violation", err.Error(), mode)
		}
	}

	return nil
}

func rejected(design *Design, code, message string, mode ValidatorMode) error {
	return &bioerrors.InvalidDesignError{
		ViolationCode:    code,
		ViolationMessage: message,
		ValidatorMode:    string(mode),
		DesignID:         design.DesignID,
	}
}

func checkDuplicateWellPositions(design *Design) error {
	seen := make(map[string]bool, len(design.Wells))
	for _, w := range design.Wells {
		key := w.PlateID + "/" + w.WellPos
		if seen[key] {
			return fmt.Errorf("%w: %s", bioerrors.ErrDuplicateWellPosition, key)
		}
		seen[key] = true
	}
	return nil
}

func checkScaffoldHash(design *Design, expected ScaffoldMetadata) error {
	got := design.Metadata.SentinelSchema.ScaffoldMetadata
	if got.ScaffoldID != expected.ScaffoldID || got.ScaffoldHash != expected.ScaffoldHash {
		return fmt.Errorf("%w: design carries scaffold %s/%s, expected %s/%s",
			bioerrors.ErrScaffoldHashMismatch, got.ScaffoldID, got.ScaffoldHash, expected.ScaffoldID, expected.ScaffoldHash)
	}
	return nil
}

// conditionKey identifies one (compound, dose) combination independent
// of timepoint, used to check that every timepoint within a cell line
// exercises the same set of conditions.
type conditionKey struct {
	compound string
	doseUM   float64
}

// checkConditionMultisetEquality verifies that, for each cell line, the
// multiset of (compound, dose) conditions is identical across every
// timepoint present for that cell line — an asymmetric design (e.g. a
// dose tested at 24h but not 48h) is rejected.
func checkConditionMultisetEquality(design *Design) error {
	byCellLine := make(map[string]map[float64][]conditionKey)
	for _, w := range design.Wells {
		if byCellLine[w.CellLine] == nil {
			byCellLine[w.CellLine] = make(map[float64][]conditionKey)
		}
		byCellLine[w.CellLine][w.TimepointH] = append(byCellLine[w.CellLine][w.TimepointH], conditionKey{w.Compound, w.DoseUM})
	}

	for cellLine, byTimepoint := range byCellLine {
		var timepoints []float64
		for tp := range byTimepoint {
			timepoints = append(timepoints, tp)
		}
		if len(timepoints) < 2 {
			continue
		}
		sort.Float64s(timepoints)

		reference := multisetSignature(byTimepoint[timepoints[0]])
		for _, tp := range timepoints[1:] {
			if multisetSignature(byTimepoint[tp]) != reference {
				return fmt.Errorf("cell line %s: condition set at timepoint %.2fh differs from timepoint %.2fh", cellLine, tp, timepoints[0])
			}
		}
	}
	return nil
}

func multisetSignature(keys []conditionKey) string {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].compound != keys[j].compound {
			return keys[i].compound < keys[j].compound
		}
		return keys[i].doseUM < keys[j].doseUM
	})
	sig := ""
	for _, k := range keys {
		sig += fmt.Sprintf("%s@%.6f|", k.compound, k.doseUM)
	}
	return sig
}

// checkCatalogRules evaluates every compound's catalog-driven expr
// rules (library membership, dose ranges, and so on per spec §9) plus
// plate capacity, run only in ValidatorFull once catalogs are fully
// loaded.
func checkCatalogRules(design *Design, catalogs *catalog.Catalogs) error {
	plateCounts := make(map[string]int)
	for _, w := range design.Wells {
		plateCounts[w.PlateID]++

		if _, ok := catalogs.CellLine(w.CellLine); !ok {
			return fmt.Errorf("unknown cell line %q", w.CellLine)
		}
		spec, ok := catalogs.Compound(w.Compound)
		if !ok {
			return fmt.Errorf("unknown compound %q", w.Compound)
		}
		if spec.MaxDoseUM > 0 && w.DoseUM > spec.MaxDoseUM {
			return fmt.Errorf("compound %s dose %.3f exceeds max_dose_uM %.3f", w.Compound, w.DoseUM, spec.MaxDoseUM)
		}
		env := catalog.RuleEnv{DoseUM: w.DoseUM, TimepointH: w.TimepointH}
		for i := range spec.Rules {
			ok, err := spec.Rules[i].Evaluate(env)
			if err != nil {
				return fmt.Errorf("compound %s rule evaluation: %w", w.Compound, err)
			}
			if !ok {
				return fmt.Errorf("compound %s: %s", w.Compound, spec.Rules[i].Message)
			}
		}
	}

	for plateID, vessel := range plateVesselFor(design, catalogs) {
		if vessel.PlateCapacity > 0 && plateCounts[plateID] > vessel.PlateCapacity {
			return fmt.Errorf("plate %s has %d wells, exceeds capacity %d", plateID, plateCounts[plateID], vessel.PlateCapacity)
		}
	}
	return nil
}

// plateVesselFor resolves each plate seen in the design to the catalog's
// vessel format with id "default". When the catalog has no vessel with
// that id it returns an empty map, and no plate-capacity check runs.
// Campaigns mixing formats per plate are not modeled here.
func plateVesselFor(design *Design, catalogs *catalog.Catalogs) map[string]catalog.VesselSpec {
	out := make(map[string]catalog.VesselSpec)
	v, ok := catalogs.Vessel("default")
	if !ok {
		return out
	}
	seen := make(map[string]bool)
	for _, w := range design.Wells {
		if !seen[w.PlateID] {
			out[w.PlateID] = v
			seen[w.PlateID] = true
		}
	}
	return out
}
