package catalog

import "fmt"

// SeedSpec describes the inputs needed to seed a fresh vessel at the
// start of a cycle (spec §3.3: "Vessels: created by seed_vessel at cycle
// start").
type SeedSpec struct {
	VesselID       string
	PlateID        string
	WellPosition   string
	CellLineID     string
	VesselFormatID string
	InitialCells   float64
}

// SeedVessel is the only constructor for VesselState. All later mutation
// happens through pkg/bvm operations; nothing else in this codebase
// constructs a VesselState directly.
func SeedVessel(catalogs *Catalogs, spec SeedSpec) (*VesselState, error) {
	cellLine, ok := catalogs.CellLine(spec.CellLineID)
	if !ok {
		return nil, fmt.Errorf("catalog: unknown cell line %q", spec.CellLineID)
	}
	vesselFmt, ok := catalogs.Vessel(spec.VesselFormatID)
	if !ok {
		return nil, fmt.Errorf("catalog: unknown vessel format %q", spec.VesselFormatID)
	}
	if spec.InitialCells < 0 {
		return nil, fmt.Errorf("catalog: initial cell count must be non-negative, got %f", spec.InitialCells)
	}

	capacity := vesselFmt.InitialVolumeUL * cellLine.VesselCapacityDensity
	if capacity <= 0 {
		capacity = 1 // avoid division-by-zero confluence; pathological but non-fatal
	}

	mixtures := make(map[string]SubpopulationMixture, len(cellLine.InitialMixtures))
	for axis, mix := range cellLine.InitialMixtures {
		mixtures[axis] = mix.Renormalize()
	}

	v := &VesselState{
		VesselID:         spec.VesselID,
		PlateID:          spec.PlateID,
		WellPosition:     spec.WellPosition,
		CellLine:         spec.CellLineID,
		CellCount:        spec.InitialCells,
		Viability:        1.0,
		Confluence:       spec.InitialCells / capacity,
		MediaVolumeUL:    vesselFmt.InitialVolumeUL,
		InitialVolumeUL:  vesselFmt.InitialVolumeUL,
		MediaAgeH:        0,
		Subpopulations:   mixtures,
		Death:            DeathAccounting{},
		Compounds:        make(map[string]CompoundDose),
		LactateMM:        0,
		PHProxy:          7.4,
		VesselCapacity:   capacity,
		DebrisLevel:      0,
		AttachedFraction: 1.0,
		EvapRatePerH:     vesselFmt.EvapRatePerH,
	}

	return v, nil
}
