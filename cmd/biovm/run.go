package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/epistemic-labs/biovm/internal/config"
	"github.com/epistemic-labs/biovm/internal/obslog"
	"github.com/epistemic-labs/biovm/internal/obsmetrics"
	"github.com/epistemic-labs/biovm/pkg/agent"
	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/epistemic"
	"github.com/epistemic-labs/biovm/pkg/posterior"
	"github.com/epistemic-labs/biovm/pkg/rng"
	"github.com/epistemic-labs/biovm/pkg/runcontext"
)

// diagnosticsSummary is the final summary line every run writes to
// diagnostics.jsonl before exiting, per spec §7.
type diagnosticsSummary struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	LastCycle int    `json:"last_cycle"`
	ExitCode  int    `json:"exit_code"`
}

func newRunCmd() *cobra.Command {
	var (
		configPath  string
		seed        int64
		runID       string
		workers     int
		cycles      int
		metricsAddr string
		envPath     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCampaign(cmd.Context(), configPath, seed, runID, workers, cycles, metricsAddr, envPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to campaign config YAML")
	cmd.Flags().Int64Var(&seed, "seed", 0, "root RNG seed")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier")
	cmd.Flags().IntVar(&workers, "workers", 0, "beam expansion worker count override")
	cmd.Flags().IntVar(&cycles, "cycles", 10, "number of agent loop cycles to run")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "optional address to serve /metrics on")
	cmd.Flags().StringVar(&envPath, "env", "", "optional .env overlay path")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}

func runCampaign(ctx context.Context, configPath string, seed int64, runID string, workers, cycles int, metricsAddr, envPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return withExitCode(exitIOError, err)
	}
	overlay, err := config.LoadOverlay(envPath)
	if err != nil {
		return withExitCode(exitIOError, err)
	}

	if runID != "" {
		cfg.RunID = runID
	}
	if seed != 0 {
		cfg.Seed = seed
	} else if cfg.Seed == 0 {
		cfg.Seed = overlay.DefaultSeed
	}
	if cfg.ArtifactRoot == "" {
		cfg.ArtifactRoot = overlay.ArtifactRoot
	}
	if cfg.ArtifactRoot == "" {
		cfg.ArtifactRoot = filepath.Join(".", "runs", cfg.RunID)
	}

	logger := obslog.New(obslog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	catalogData, err := os.ReadFile(cfg.CatalogPath)
	if err != nil {
		return withExitCode(exitIOError, fmt.Errorf("run: reading catalog: %w", err))
	}
	catalogs, err := catalog.Load(catalogData)
	if err != nil {
		return withExitCode(exitIOError, fmt.Errorf("run: loading catalog: %w", err))
	}

	beamCfg := cfg.Beam.ToBeamConfig()
	beamCfg.CompoundID = cfg.CompoundID
	beamCfg.BaseDoseUM = cfg.BaseDoseUM
	if workers > 0 {
		beamCfg.Workers = workers
	}

	plateIDs := []string{fmt.Sprintf("%s-plate0", cfg.RunID)}
	rc := runcontext.New(cfg.Seed, runcontext.DefaultConfig(), plateIDs)
	fabric := rng.New(cfg.Seed)

	var metrics *obsmetrics.Metrics
	if metricsAddr != "" {
		metrics = obsmetrics.New()
		go func() {
			if err := metrics.Serve(ctx, metricsAddr); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	deps := agent.Deps{
		Catalogs:   catalogs,
		RunCtx:     rc,
		Fabric:     fabric,
		Signatures: posterior.DefaultSignatures(),
		Nuisance:   posterior.NuisanceModel{SignalVar: 1.0},
		Epistemic:  epistemic.New(epistemic.DefaultConfig()),
		Metrics:    metrics,
		Logger:     logger,
	}

	loopCfg := agent.Config{
		RunID:          cfg.RunID,
		RunRoot:        cfg.ArtifactRoot,
		GitSHA:         overlay.GitSHA,
		CellLineID:     cfg.CellLineID,
		VesselFormatID: cfg.VesselFormatID,
		CompoundID:     cfg.CompoundID,
		BaseDoseUM:     cfg.BaseDoseUM,
		BeamWidth:      cfg.BeamWidth,
		WellPositions:  cfg.WellPositions,
		Beam:           beamCfg,
	}

	loop, err := agent.NewLoop(deps, loopCfg)
	if err != nil {
		return withExitCode(exitRuntimeError, err)
	}

	lastCycle := -1
	for cycle := 0; cycle < cycles; cycle++ {
		select {
		case <-ctx.Done():
			return writeSummaryAndReturn(cfg.ArtifactRoot, lastCycle, withExitCode(exitRuntimeError, ctx.Err()))
		default:
		}

		receipt, err := loop.RunCycle(ctx, cycle)
		if err != nil {
			return writeSummaryAndReturn(cfg.ArtifactRoot, lastCycle, withExitCode(exitCodeFor(err), err))
		}
		lastCycle = cycle
		logger.Info("cycle complete", "cycle", cycle, "template", receipt.Template, "gate_state", receipt.GateState)

		if receipt.GateState == "committed" {
			break
		}
	}

	return writeSummaryAndReturn(cfg.ArtifactRoot, lastCycle, nil)
}

func writeSummaryAndReturn(runRoot string, lastCycle int, runErr error) error {
	summary := diagnosticsSummary{Status: "ok", LastCycle: lastCycle, ExitCode: exitSuccess}
	if runErr != nil {
		summary.Status = "failed"
		summary.Reason = runErr.Error()
		summary.ExitCode = exitCodeFor(runErr)
	}

	if err := os.MkdirAll(runRoot, 0o755); err == nil {
		if data, mErr := json.Marshal(summary); mErr == nil {
			data = append(data, '\n')
			f, oErr := os.OpenFile(filepath.Join(runRoot, "diagnostics.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if oErr == nil {
				_, _ = f.Write(data)
				_ = f.Close()
			}
		}
	}

	return runErr
}
