package designbridge

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// hashedWell mirrors Well but only the execution-relevant fields named
// in spec §4.7 — no timestamps, comments, or paths leak into the hash.
type hashedWell struct {
	CellLine     string  `json:"cell_line"`
	Compound     string  `json:"compound"`
	DoseUM       float64 `json:"dose_uM"`
	TimepointH   float64 `json:"timepoint_h"`
	WellPos      string  `json:"well_pos"`
	PlateID      string  `json:"plate_id"`
	Day          int     `json:"day"`
	Operator     string  `json:"operator"`
	IsSentinel   bool    `json:"is_sentinel"`
}

type hashedDesign struct {
	DesignID string       `json:"design_id"`
	Wells    []hashedWell `json:"wells"`
}

// ComputeHash hashes only the execution-relevant fields of a design:
// design_id and per-well {cell_line, compound, dose_uM, timepoint_h,
// well_pos, plate_id, day, operator, is_sentinel}. Wells are sorted
// into a canonical order first so hash equality does not depend on
// slice ordering, then marshaled to JSON and hashed with SHA-256;
// output is the first 16 hex characters.
func ComputeHash(design *Design) string {
	hd := hashedDesign{DesignID: design.DesignID}
	for _, w := range design.Wells {
		hd.Wells = append(hd.Wells, hashedWell{
			CellLine:   w.CellLine,
			Compound:   w.Compound,
			DoseUM:     w.DoseUM,
			TimepointH: w.TimepointH,
			WellPos:    w.WellPos,
			PlateID:    w.PlateID,
			Day:        w.Day,
			Operator:   w.Operator,
			IsSentinel: w.IsSentinel,
		})
	}
	sort.Slice(hd.Wells, func(i, j int) bool {
		a, b := hd.Wells[i], hd.Wells[j]
		if a.PlateID != b.PlateID {
			return a.PlateID < b.PlateID
		}
		return a.WellPos < b.WellPos
	})

	// json.Marshal on a struct with fixed field order already produces
	// canonical output; map types are avoided here specifically so no
	// secondary key-sort pass is needed.
	data, err := json.Marshal(hd)
	if err != nil {
		panic(fmt.Sprintf("designbridge: hashing a Design must never fail to marshal: %v", err))
	}

	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)[:16]
}
