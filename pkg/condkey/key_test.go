package condkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBankersRoundTiesToEven(t *testing.T) {
	assert.Equal(t, 2, bankersRound(2.5))
	assert.Equal(t, 4, bankersRound(3.5))
	assert.Equal(t, 0, bankersRound(0.5))
	assert.Equal(t, 2, bankersRound(1.5))
}

func TestFromRawCollapsesCloseDoses(t *testing.T) {
	log := NewMergeLog()
	k1 := FromRaw(log, 1.0002, 4.0, "HeLa", "X", "viability", "edge")
	k2 := FromRaw(log, 1.0004, 4.0, "HeLa", "X", "viability", "edge")

	assert.Equal(t, k1, k2)
	assert.Len(t, log.Events(), 1)
}

func TestFromRawDistinctDosesDoNotMerge(t *testing.T) {
	log := NewMergeLog()
	k1 := FromRaw(log, 1.0, 4.0, "HeLa", "X", "viability", "edge")
	k2 := FromRaw(log, 2.0, 4.0, "HeLa", "X", "viability", "edge")

	assert.NotEqual(t, k1, k2)
	assert.Empty(t, log.Events())
}

func TestKeyStringStable(t *testing.T) {
	k := Key{DoseNM: 1000, TimeMin: 240, CellLine: "HeLa", Compound: "X", Assay: "viability", PositionClass: "edge"}
	assert.Equal(t, "HeLa|X|dose=1000nM|t=240min|viability|edge", k.String())
}
