package designbridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/epistemic-labs/biovm/pkg/bioerrors"
)

// CaughtAt records when and under what run a rejection was observed.
type CaughtAt struct {
	Cycle     int       `json:"cycle"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	GitSHA    string    `json:"git_sha,omitempty"`
}

// RejectionReason is the companion artifact written alongside every
// rejected design, per spec §6.
type RejectionReason struct {
	ViolationCode    string   `json:"violation_code"`
	ViolationMessage string   `json:"violation_message"`
	ValidatorMode    string   `json:"validator_mode"`
	DesignHash       string   `json:"design_hash"`
	CaughtAt         CaughtAt `json:"caught_at"`
	DesignPath       string   `json:"design_path"`
}

func acceptedFilename(runID string, cycle int, designID string) string {
	prefix := designID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%s_cycle_%03d_%s.json", runID, cycle, prefix)
}

func rejectedFilename(runID string, cycle int, designID string) string {
	prefix := designID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%s_cycle_%03d_%s_REJECTED.json", runID, cycle, prefix)
}

// Persist writes an accepted design to
// {run_root}/designs/{run_id}_cycle_{cycle:03d}_{design_id[:8]}.json.
func Persist(design *Design, runRoot, runID string, cycle int) (string, error) {
	dir := filepath.Join(runRoot, "designs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &bioerrors.AuditDegradedError{Operation: "persist_design_mkdir", Err: err}
	}

	path := filepath.Join(dir, acceptedFilename(runID, cycle, design.DesignID))
	data, err := json.MarshalIndent(design, "", "  ")
	if err != nil {
		return "", fmt.Errorf("designbridge: marshaling accepted design: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &bioerrors.AuditDegradedError{Operation: "persist_design_write", Err: err}
	}
	return path, nil
}

// PersistRejected writes a rejected design plus its companion
// *.reason.json to {run_root}/designs/rejected/. The refusal itself is
// always enforced by the caller regardless of what
// PersistRejected returns; a non-nil return here only means the audit
// trail itself is degraded, wrapped with AuditDegradedError so callers
// can distinguish "refused, and we have a record" from "refused, and
// the record may be missing."
func PersistRejected(design *Design, runRoot, runID string, cycle int, violationCode, violationMessage, validatorMode, gitSHA string) error {
	dir := filepath.Join(runRoot, "designs", "rejected")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &bioerrors.AuditDegradedError{Operation: "persist_rejected_mkdir", Err: err}
	}

	designPath := filepath.Join(dir, rejectedFilename(runID, cycle, design.DesignID))
	designData, err := json.MarshalIndent(design, "", "  ")
	if err != nil {
		return &bioerrors.AuditDegradedError{Operation: "persist_rejected_marshal", Err: err}
	}
	if err := os.WriteFile(designPath, designData, 0o644); err != nil {
		return &bioerrors.AuditDegradedError{Operation: "persist_rejected_write_design", Err: err}
	}

	reason := RejectionReason{
		ViolationCode:    violationCode,
		ViolationMessage: violationMessage,
		ValidatorMode:    validatorMode,
		DesignHash:       ComputeHash(design),
		CaughtAt: CaughtAt{
			Cycle:     cycle,
			RunID:     runID,
			Timestamp: time.Now().UTC(),
			GitSHA:    gitSHA,
		},
		DesignPath: designPath,
	}
	reasonData, err := json.MarshalIndent(reason, "", "  ")
	if err != nil {
		return &bioerrors.AuditDegradedError{Operation: "persist_rejected_marshal_reason", Err: err}
	}
	reasonPath := designPath[:len(designPath)-len(".json")] + ".reason.json"
	if err := os.WriteFile(reasonPath, reasonData, 0o644); err != nil {
		return &bioerrors.AuditDegradedError{Operation: "persist_rejected_write_reason", Err: err}
	}

	return nil
}
