package designbridge

import (
	"fmt"
	"math"
)

// operatorRoster is the fixed rotation of operator identities assigned
// deterministically across a design's wells, mirroring the teacher's
// preference for small closed enums over free-form strings wherever the
// domain allows it.
var operatorRoster = []string{"op_alpha", "op_beta", "op_gamma"}

// sentinelEvery marks one well in this many as a sentinel control.
const sentinelEvery = 12

// ToDesignJSON deterministically expands a Proposal into a Design: each
// WellSpec is assigned the next available well position from
// wellPositions (consumed in order, wrapping to a new plate once
// exhausted), a day derived from its timepoint, a rotating operator, and
// periodic sentinel marking. The expansion is a pure function of its
// inputs so identical (proposal, cycle, runID, wellPositions) always
// produce byte-identical wells.
func ToDesignJSON(proposal Proposal, cycle int, runID string, wellPositions []string) (*Design, error) {
	if len(proposal.Wells) == 0 {
		return nil, fmt.Errorf("designbridge: proposal %s has no wells", proposal.DesignID)
	}
	if len(wellPositions) == 0 {
		return nil, fmt.Errorf("designbridge: no well positions supplied for proposal %s", proposal.DesignID)
	}

	wells := make([]Well, 0, len(proposal.Wells))
	for i, ws := range proposal.Wells {
		posIdx := i % len(wellPositions)
		plateIdx := i / len(wellPositions)

		well := Well{
			CellLine:   ws.CellLine,
			Compound:   ws.Compound,
			DoseUM:     ws.DoseUM,
			TimepointH: ws.TimepointH,
			WellPos:    wellPositions[posIdx],
			PlateID:    fmt.Sprintf("%s_cycle%03d_plate%02d", runID, cycle, plateIdx),
			Day:        int(math.Floor(ws.TimepointH / 24.0)),
			Operator:   operatorRoster[i%len(operatorRoster)],
		}
		if (i+1)%sentinelEvery == 0 {
			well.IsSentinel = true
			well.SentinelType = "vehicle_control"
		}
		wells = append(wells, well)
	}

	return &Design{
		DesignID:    proposal.DesignID,
		DesignType:  "dose_response",
		Description: proposal.Hypothesis,
		Metadata: DesignMetadata{
			RunID: runID,
			Cycle: cycle,
		},
		Wells: wells,
	}, nil
}
