package agent

import "github.com/epistemic-labs/biovm/pkg/bioerrors"

// DecisionReceipt is the one-per-cycle audit record spec §4.9 requires.
// A zero-value required field is an invariant violation, not a soft
// warning — Validate enforces that before the receipt is ever written.
type DecisionReceipt struct {
	Cycle     int    `json:"cycle"`
	Template  string `json:"template"`
	Forced    bool   `json:"forced"`
	Trigger   string `json:"trigger"`
	Regime    string `json:"regime"`
	GateState string `json:"gate_state"`

	EnforcementLayer  string `json:"enforcement_layer,omitempty"`
	AttemptedTemplate string `json:"attempted_template,omitempty"`
	CalibrationPlan   string `json:"calibration_plan,omitempty"`
}

// Validate checks every required field is populated, raising
// bioerrors.DecisionReceiptInvariantError naming the first missing one.
func (r DecisionReceipt) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"template", r.Template},
		{"trigger", r.Trigger},
		{"regime", r.Regime},
		{"gate_state", r.GateState},
	}
	for _, f := range required {
		if f.value == "" {
			return &bioerrors.DecisionReceiptInvariantError{MissingField: f.name, Cycle: r.Cycle}
		}
	}
	return nil
}
