package epistemic

// EvidenceKind names the closed set of events the evidence log accepts.
// Belief state may only change in response to one of these; any other
// mutation path is the BeliefLedgerInvariantError contract from spec
// §4.9.
type EvidenceKind string

const (
	EvidenceObservation EvidenceKind = "observation"
	EvidenceClaim       EvidenceKind = "claim"
	EvidenceResolution  EvidenceKind = "resolution"
)

// EvidenceEvent is one append-only record. The belief ledger never
// mutates fields directly — every change is an appended event, breaking
// the cyclic reference spec §9 flags between belief ledger and evidence
// log.
type EvidenceEvent struct {
	Kind     EvidenceKind
	ActionID string
	Cycle    int
	Detail   map[string]any
}

// EvidenceLog is an append-only sequence of EvidenceEvents. Controller
// appends one event per Claim and one per Resolve and does not keep the
// returned indices; its debt and penalty ledger (EpistemicState) is a
// separate struct that Resolve updates in place.
type EvidenceLog struct {
	events []EvidenceEvent
}

// Append adds an event and returns its index.
func (l *EvidenceLog) Append(e EvidenceEvent) int {
	l.events = append(l.events, e)
	return len(l.events) - 1
}

// Events returns a read-only copy of the full log, the only way outside
// callers may observe it (spec §5: expose controller statistics as
// copies).
func (l *EvidenceLog) Events() []EvidenceEvent {
	out := make([]EvidenceEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len reports how many events have been appended.
func (l *EvidenceLog) Len() int { return len(l.events) }
