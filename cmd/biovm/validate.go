package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/designbridge"
)

func newValidateCmd() *cobra.Command {
	var (
		designPath  string
		catalogPath string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a persisted design without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateDesign(designPath, catalogPath)
		},
	}
	cmd.Flags().StringVar(&designPath, "design", "", "path to a persisted design JSON file")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "optional catalog YAML to validate against (enables full-mode rules)")
	_ = cmd.MarkFlagRequired("design")

	return cmd
}

func validateDesign(designPath, catalogPath string) error {
	data, err := os.ReadFile(designPath)
	if err != nil {
		return withExitCode(exitIOError, fmt.Errorf("validate: reading design: %w", err))
	}
	var design designbridge.Design
	if err := json.Unmarshal(data, &design); err != nil {
		return withExitCode(exitIOError, fmt.Errorf("validate: parsing design: %w", err))
	}

	mode := designbridge.ValidatorPlaceholder
	var catalogs *catalog.Catalogs
	if catalogPath != "" {
		catalogData, err := os.ReadFile(catalogPath)
		if err != nil {
			return withExitCode(exitIOError, fmt.Errorf("validate: reading catalog: %w", err))
		}
		catalogs, err = catalog.Load(catalogData)
		if err != nil {
			return withExitCode(exitIOError, fmt.Errorf("validate: loading catalog: %w", err))
		}
		mode = designbridge.ValidatorFull
	}

	if err := designbridge.Validate(&design, catalogs, mode, nil); err != nil {
		return withExitCode(exitInvariantError, err)
	}

	fmt.Printf("design %s: valid (mode=%s)\n", design.DesignID, mode)
	return nil
}
