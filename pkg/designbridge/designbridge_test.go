package designbridge_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epistemic-labs/biovm/pkg/designbridge"
)

func sampleProposal() designbridge.Proposal {
	return designbridge.Proposal{
		DesignID:   "design-0001-abcdef",
		Hypothesis: "compound X induces ER stress at 2uM",
		Wells: []designbridge.WellSpec{
			{CellLine: "HeLa", Compound: "compound_x", DoseUM: 2.0, TimepointH: 24},
			{CellLine: "HeLa", Compound: "compound_x", DoseUM: 4.0, TimepointH: 24},
			{CellLine: "HeLa", Compound: "compound_x", DoseUM: 2.0, TimepointH: 48},
			{CellLine: "HeLa", Compound: "compound_x", DoseUM: 4.0, TimepointH: 48},
		},
	}
}

func wellPositions() []string {
	return []string{"A01", "A02", "A03", "A04", "A05", "A06"}
}

func TestToDesignJSON_DeterministicExpansion(t *testing.T) {
	p := sampleProposal()
	d1, err := designbridge.ToDesignJSON(p, 3, "run-42", wellPositions())
	require.NoError(t, err)
	d2, err := designbridge.ToDesignJSON(p, 3, "run-42", wellPositions())
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1.Wells, 4)
	assert.Equal(t, "A01", d1.Wells[0].WellPos)
}

func TestValidate_RejectsDuplicateWellPositions(t *testing.T) {
	d := &designbridge.Design{
		DesignID:   "design-dup",
		DesignType: "dose_response",
		Wells: []designbridge.Well{
			{CellLine: "HeLa", Compound: "compound_x", DoseUM: 2.0, TimepointH: 24, WellPos: "A01", PlateID: "p1", Operator: "op_alpha"},
			{CellLine: "HeLa", Compound: "compound_x", DoseUM: 4.0, TimepointH: 24, WellPos: "A01", PlateID: "p1", Operator: "op_beta"},
		},
	}

	err := designbridge.Validate(d, nil, designbridge.ValidatorPlaceholder, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate_well_positions")
}

func TestValidate_RejectsConditionMultisetMismatch(t *testing.T) {
	p := designbridge.Proposal{
		DesignID:   "design-0002",
		Hypothesis: "asymmetric conditions",
		Wells: []designbridge.WellSpec{
			{CellLine: "HeLa", Compound: "compound_x", DoseUM: 2.0, TimepointH: 24},
			{CellLine: "HeLa", Compound: "compound_x", DoseUM: 2.0, TimepointH: 48},
			{CellLine: "HeLa", Compound: "compound_y", DoseUM: 2.0, TimepointH: 48},
		},
	}
	d, err := designbridge.ToDesignJSON(p, 0, "run-1", wellPositions())
	require.NoError(t, err)

	err = designbridge.Validate(d, nil, designbridge.ValidatorPlaceholder, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "condition_multiset_mismatch")
}

func TestValidate_AcceptsWellFormedDesign(t *testing.T) {
	d, err := designbridge.ToDesignJSON(sampleProposal(), 0, "run-1", wellPositions())
	require.NoError(t, err)

	err = designbridge.Validate(d, nil, designbridge.ValidatorPlaceholder, nil)
	assert.NoError(t, err)
}

func TestComputeHash_StableAcrossMetadataChanges(t *testing.T) {
	d, err := designbridge.ToDesignJSON(sampleProposal(), 0, "run-1", wellPositions())
	require.NoError(t, err)

	h1 := designbridge.ComputeHash(d)
	d.Description = "a totally different description"
	d.Metadata.GitSHA = "deadbeef"
	h2 := designbridge.ComputeHash(d)
	assert.Equal(t, h1, h2)

	d.Wells[0].DoseUM = 99.0
	h3 := designbridge.ComputeHash(d)
	assert.NotEqual(t, h1, h3)
}

func TestPersist_RoundTripsThroughDisk(t *testing.T) {
	d, err := designbridge.ToDesignJSON(sampleProposal(), 2, "run-7", wellPositions())
	require.NoError(t, err)

	dir := t.TempDir()
	path, err := designbridge.Persist(d, dir, "run-7", 2)
	require.NoError(t, err)
	require.FileExists(t, path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var reloaded designbridge.Design
	require.NoError(t, json.Unmarshal(raw, &reloaded))
	assert.Equal(t, designbridge.ComputeHash(d), designbridge.ComputeHash(&reloaded))
}

func TestPersistRejected_WritesDesignAndReasonCompanion(t *testing.T) {
	d, err := designbridge.ToDesignJSON(sampleProposal(), 1, "run-9", []string{"A01"})
	require.NoError(t, err)

	dir := t.TempDir()
	err = designbridge.PersistRejected(d, dir, "run-9", 1, "duplicate_well_positions", "duplicate well A01", "placeholder", "")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "designs", "rejected"))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var reasonPath string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".reason.json") {
			reasonPath = filepath.Join(dir, "designs", "rejected", e.Name())
		}
	}
	require.NotEmpty(t, reasonPath)

	raw, err := os.ReadFile(reasonPath)
	require.NoError(t, err)
	var reason designbridge.RejectionReason
	require.NoError(t, json.Unmarshal(raw, &reason))
	assert.Equal(t, "duplicate_well_positions", reason.ViolationCode)
}
