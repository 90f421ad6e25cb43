package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/epistemic-labs/biovm/pkg/bvm"
	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/designbridge"
	"github.com/epistemic-labs/biovm/pkg/rng"
	"github.com/epistemic-labs/biovm/pkg/runcontext"
)

// replayWellResult captures the reproducible outcome of stepping one
// well, printed as the replay artifact since a replay has no live
// agent loop driving it into decisions.jsonl.
type replayWellResult struct {
	WellPos          string  `json:"well_pos"`
	PlateID          string  `json:"plate_id"`
	FinalViability   float64 `json:"final_viability"`
	FinalConfluence  float64 `json:"final_confluence"`
	FinalLactateMM   float64 `json:"final_lactate_mM"`
	SubstepsExecuted int     `json:"substeps_executed"`
}

func newReplayCmd() *cobra.Command {
	var (
		designPath  string
		catalogPath string
		seed        int64
		cellLineID  string
		vesselFmtID string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a persisted design and reproduce its execution artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayDesign(cmd.Context(), designPath, catalogPath, seed, cellLineID, vesselFmtID)
		},
	}
	cmd.Flags().StringVar(&designPath, "design", "", "path to a persisted, accepted design JSON file")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog YAML the original run used")
	cmd.Flags().Int64Var(&seed, "seed", 0, "root RNG seed the original run used")
	cmd.Flags().StringVar(&cellLineID, "cell-line", "", "cell line id to seed replayed vessels with")
	cmd.Flags().StringVar(&vesselFmtID, "vessel-format", "", "vessel format id to seed replayed vessels with")
	_ = cmd.MarkFlagRequired("design")
	_ = cmd.MarkFlagRequired("catalog")

	return cmd
}

// replayDesign re-executes every well of a persisted design against a
// fresh catalog load and RNG fabric seeded identically to the original
// run. Spec §6/§8: replay must reproduce identical artifacts given the
// same catalogs and seed — since BVM physics only ever draws from named
// growth/treatment/operations sub-streams keyed by vessel id, re-seeding
// the same fabric from the same root seed reproduces the same
// trajectory regardless of how many cycles have elapsed since.
func replayDesign(ctx context.Context, designPath, catalogPath string, seed int64, cellLineID, vesselFmtID string) error {
	designData, err := os.ReadFile(designPath)
	if err != nil {
		return withExitCode(exitIOError, fmt.Errorf("replay: reading design: %w", err))
	}
	var design designbridge.Design
	if err := json.Unmarshal(designData, &design); err != nil {
		return withExitCode(exitIOError, fmt.Errorf("replay: parsing design: %w", err))
	}

	catalogData, err := os.ReadFile(catalogPath)
	if err != nil {
		return withExitCode(exitIOError, fmt.Errorf("replay: reading catalog: %w", err))
	}
	catalogs, err := catalog.Load(catalogData)
	if err != nil {
		return withExitCode(exitIOError, fmt.Errorf("replay: loading catalog: %w", err))
	}

	if err := designbridge.Validate(&design, catalogs, designbridge.ValidatorFull, nil); err != nil {
		return withExitCode(exitInvariantError, fmt.Errorf("replay: design no longer validates: %w", err))
	}

	originalHash := designbridge.ComputeHash(&design)

	plateIDs := uniquePlateIDs(&design)
	rc := runcontext.New(seed, runcontext.DefaultConfig(), plateIDs)
	fabric := rng.New(seed)
	physics := rng.PhysicsStreams(fabric)

	results := make([]replayWellResult, 0, len(design.Wells))
	for _, w := range design.Wells {
		cl := cellLineID
		if cl == "" {
			cl = w.CellLine
		}
		vf := vesselFmtID
		if vf == "" {
			vf = "default"
		}

		v, err := catalog.SeedVessel(catalogs, catalog.SeedSpec{
			VesselID:       fmt.Sprintf("%s-%s", w.PlateID, w.WellPos),
			PlateID:        w.PlateID,
			WellPosition:   w.WellPos,
			CellLineID:     cl,
			VesselFormatID: vf,
			InitialCells:   100,
		})
		if err != nil {
			return withExitCode(exitRuntimeError, fmt.Errorf("replay: seeding well %s/%s: %w", w.PlateID, w.WellPos, err))
		}

		if w.DoseUM > 0 {
			if err := bvm.Treat(v, w.Compound, w.DoseUM, 0.1, 0.1, 0); err != nil {
				return withExitCode(exitRuntimeError, fmt.Errorf("replay: treating well %s/%s: %w", w.PlateID, w.WellPos, err))
			}
		}

		report, err := bvm.Step(ctx, v, bvm.Inputs{Catalogs: catalogs, RunCtx: rc, Streams: physics}, w.TimepointH)
		if err != nil {
			return withExitCode(exitInvariantError, fmt.Errorf("replay: stepping well %s/%s: %w", w.PlateID, w.WellPos, err))
		}

		results = append(results, replayWellResult{
			WellPos:          w.WellPos,
			PlateID:          w.PlateID,
			FinalViability:   v.Viability,
			FinalConfluence:  v.Confluence,
			FinalLactateMM:   v.LactateMM,
			SubstepsExecuted: report.SubstepsExecuted,
		})
	}

	replayedHash := designbridge.ComputeHash(&design)
	if replayedHash != originalHash {
		return withExitCode(exitInvariantError, fmt.Errorf("replay: design hash drifted across reload (%s != %s)", replayedHash, originalHash))
	}

	out := struct {
		DesignID string             `json:"design_id"`
		Hash     string             `json:"design_hash"`
		Wells    []replayWellResult `json:"wells"`
	}{DesignID: design.DesignID, Hash: replayedHash, Wells: results}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return withExitCode(exitRuntimeError, fmt.Errorf("replay: encoding result: %w", err))
	}
	return nil
}

func uniquePlateIDs(design *designbridge.Design) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range design.Wells {
		if !seen[w.PlateID] {
			seen[w.PlateID] = true
			out = append(out, w.PlateID)
		}
	}
	return out
}
