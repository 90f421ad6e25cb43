package main

import (
	"errors"

	"github.com/epistemic-labs/biovm/pkg/bioerrors"
)

const (
	exitSuccess        = 0
	exitRuntimeError   = 1
	exitInvariantError = 2
	exitIOError        = 3
	exitAuditDegraded  = 4
)

// exitError wraps an error with an explicit exit code, letting a
// subcommand express a code that doesn't follow mechanically from the
// error's Go type (e.g. a validate-only command's "found a violation" is
// success from the shell's perspective of "ran cleanly" but must still
// surface as 2).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// exitCodeFor classifies an error into spec §6/§7's exit code taxonomy.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	var audit interface{ AuditDegraded() bool }
	if errors.As(err, &audit) {
		return exitAuditDegraded
	}

	var invariant *bioerrors.InvariantError
	if errors.As(err, &invariant) {
		return exitInvariantError
	}
	var epistemicInvariant *bioerrors.EpistemicInvariantError
	if errors.As(err, &epistemicInvariant) {
		return exitInvariantError
	}
	var receiptInvariant *bioerrors.DecisionReceiptInvariantError
	if errors.As(err, &receiptInvariant) {
		return exitInvariantError
	}
	var ledgerInvariant *bioerrors.BeliefLedgerInvariantError
	if errors.As(err, &ledgerInvariant) {
		return exitInvariantError
	}

	if errors.Is(err, bioerrors.ErrScaffoldHashMismatch) ||
		errors.Is(err, bioerrors.ErrDuplicateWellPosition) ||
		errors.Is(err, bioerrors.ErrEmptyDesign) {
		return exitInvariantError
	}

	return exitRuntimeError
}
