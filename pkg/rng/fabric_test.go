package rng

import "testing"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

func TestNamedIsDeterministic(t *testing.T) {
	f1 := New(42)
	f2 := New(42)

	s1 := f1.Named(RootGrowth, "vessel=A01|cycle=3")
	s2 := f2.Named(RootGrowth, "vessel=A01|cycle=3")

	for i := 0; i < 10; i++ {
		assert.Equal(t, s1.Float64(), s2.Float64())
	}
}

func TestNamedIsIndependentAcrossNames(t *testing.T) {
	f := New(7)
	a := f.Named(RootGrowth, "vessel=A01")
	b := f.Named(RootGrowth, "vessel=A02")

	var same = true
	for i := 0; i < 20; i++ {
		if a.Float64() != b.Float64() {
			same = false
		}
	}
	assert.False(t, same, "distinct names must not collapse to the same sequence")
}

func TestDifferentRootSeedsDiverge(t *testing.T) {
	f1 := New(1)
	f2 := New(2)

	s1 := f1.Named(RootAssay, "vessel=A01")
	s2 := f2.Named(RootAssay, "vessel=A01")

	assert.NotEqual(t, s1.Float64(), s2.Float64())
}

func TestStreamsViewRejectsForeignRoot(t *testing.T) {
	f := New(1)
	physics := PhysicsStreams(f)

	assert.Panics(t, func() {
		physics.Named(RootAssay, "vessel=A01")
	})
}

func TestStreamsViewAllowsOwnRoots(t *testing.T) {
	f := New(1)
	physics := PhysicsStreams(f)
	assay := AssayStreams(f)

	require.NotPanics(t, func() { physics.Named(RootGrowth, "x") })
	require.NotPanics(t, func() { physics.Named(RootTreatment, "x") })
	require.NotPanics(t, func() { physics.Named(RootOperations, "x") })
	require.NotPanics(t, func() { assay.Named(RootAssay, "x") })
}

func TestAuditRecorderDetectsCrossover(t *testing.T) {
	f := New(1).WithAudit()
	f.Named(RootGrowth, "a")
	f.Named(RootAssay, "b")

	err := f.Audit().AssertNoCrossover()
	assert.Error(t, err)
}

func TestAuditRecorderAllowsSingleDomain(t *testing.T) {
	f := New(1).WithAudit()
	f.Named(RootGrowth, "a")
	f.Named(RootTreatment, "b")

	err := f.Audit().AssertNoCrossover()
	assert.NoError(t, err)
}

func TestPoissonNonNegative(t *testing.T) {
	f := New(99)
	s := f.Named(RootAssay, "count")
	for i := 0; i < 100; i++ {
		v := s.Poisson(5.0)
		assert.GreaterOrEqual(t, v, 0)
	}
}

func TestPoissonZeroMean(t *testing.T) {
	f := New(99)
	s := f.Named(RootAssay, "count")
	assert.Equal(t, 0, s.Poisson(0))
}
