// Package condkey implements canonical condition keys (spec §3.2):
// integer-only identity for experimental conditions, derived by banker's
// rounding so that raw float doses and timepoints within one resolution
// unit collapse to the same key. Collapses are never silent — every
// merge is appended to a MergeLog the caller can inspect or persist.
package condkey

import (
	"fmt"
	"math"
	"sync"
)

// Key is the canonical, integer-only identity of one experimental
// condition. Two raw measurements that differ only by sub-resolution
// float noise map to the same Key.
type Key struct {
	DoseNM        int
	TimeMin       int
	CellLine      string
	Compound      string
	Assay         string
	PositionClass string
}

// String renders a stable, human-readable form suitable for use as a map
// key or log field.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|dose=%dnM|t=%dmin|%s|%s",
		k.CellLine, k.Compound, k.DoseNM, k.TimeMin, k.Assay, k.PositionClass)
}

// bankersRound rounds to the nearest integer, breaking exact .5 ties to
// the nearest even integer, matching spec §3.2's rounding semantics
// exactly (the only common rounding mode that never introduces a
// systematic bias into repeated dose/time aggregation).
func bankersRound(x float64) int {
	floor := math.Floor(x)
	diff := x - floor
	switch {
	case diff < 0.5:
		return int(floor)
	case diff > 0.5:
		return int(floor) + 1
	default:
		// Exact tie: round to even.
		if int(floor)%2 == 0 {
			return int(floor)
		}
		return int(floor) + 1
	}
}

// MergeEvent records one occasion where two distinct raw values collapsed
// to the same canonical key.
type MergeEvent struct {
	Key       Key
	RawValues []float64 // the raw dose_uM or time_h values that collapsed
	Field     string     // "dose_uM" or "time_h"
}

// MergeLog accumulates MergeEvents. Safe for concurrent use.
type MergeLog struct {
	mu     sync.Mutex
	events []MergeEvent
	seen   map[string]map[float64]bool // key.String()+"#"+field -> raw values seen
}

// NewMergeLog creates an empty merge log.
func NewMergeLog() *MergeLog {
	return &MergeLog{seen: make(map[string]map[float64]bool)}
}

// Events returns a copy of all recorded merge events.
func (m *MergeLog) Events() []MergeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MergeEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MergeLog) observe(k Key, field string, raw float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ks := k.String() + "#" + field
	bucket, ok := m.seen[ks]
	if !ok {
		bucket = make(map[float64]bool)
		m.seen[ks] = bucket
	}
	if len(bucket) > 0 && !bucket[raw] {
		// A new distinct raw value collapsed into an already-seen key:
		// record the merge.
		raws := make([]float64, 0, len(bucket)+1)
		for v := range bucket {
			raws = append(raws, v)
		}
		raws = append(raws, raw)
		m.events = append(m.events, MergeEvent{Key: k, RawValues: raws, Field: field})
	}
	bucket[raw] = true
}

// FromRaw derives the canonical Key from raw, continuous measurements,
// logging a merge event on m if the rounded dose or time collides with a
// previously observed distinct raw value for the same key.
func FromRaw(m *MergeLog, doseUM, timeH float64, cellLine, compound, assay, positionClass string) Key {
	doseNM := bankersRound(doseUM * 1000.0)
	timeMin := bankersRound(timeH * 60.0)

	k := Key{
		DoseNM:        doseNM,
		TimeMin:       timeMin,
		CellLine:      cellLine,
		Compound:      compound,
		Assay:         assay,
		PositionClass: positionClass,
	}

	if m != nil {
		m.observe(k, "dose_uM", doseUM)
		m.observe(k, "time_h", timeH)
	}

	return k
}
