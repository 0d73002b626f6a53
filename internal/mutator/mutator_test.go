package mutator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/defuzz-harness/internal/covmodel"
	"github.com/zjy-dev/defuzz-harness/internal/staticsym"
)

func sampleGadgets() []staticsym.APIGadget {
	return []staticsym.APIGadget{
		{Name: "a", ReturnType: "int"},
		{Name: "b", ReturnType: "int"},
		{Name: "c", ReturnType: "int"},
		{Name: "d", ReturnType: "int"},
	}
}

func TestSelectWithoutSeedsReturnsTopEnergy(t *testing.T) {
	m := New(sampleGadgets(), 1.0, rand.New(rand.NewSource(7)))
	cov := covmodel.New()

	picked := m.Select(cov, 1, 2)
	assert.Len(t, picked, 2)
}

func TestSelectRecordsPromptCounters(t *testing.T) {
	m := New(sampleGadgets(), 1.0, rand.New(rand.NewSource(7)))
	cov := covmodel.New()

	picked := m.Select(cov, 1, 4)
	for _, g := range picked {
		assert.Equal(t, 1, m.Counters[g.Signature()].Prompt)
	}
}

func TestEnergyDecaysWithPromptCount(t *testing.T) {
	m := New(sampleGadgets(), 1.0, rand.New(rand.NewSource(1)))
	cov := covmodel.New()
	g := m.Gadgets[0]

	before := m.energy(g, cov)
	m.Counters[g.Signature()].Prompt = 10
	after := m.energy(g, cov)
	assert.Less(t, after, before)
}

func TestAppendSeedsComputesQuality(t *testing.T) {
	m := New(sampleGadgets(), 1.0, rand.New(rand.NewSource(1)))
	cov := covmodel.New()
	cov.AddBranchHit("a", "B0", 1)
	cov.AddBranchHit("a", "B1", 1)

	path := staticsym.CriticalPath{{Name: "a", Lineno: 1, HasLine: true}}
	m.AppendSeeds("harness/0.c", cov, path)

	require.Len(t, m.Seeds, 1)
	assert.InDelta(t, 3.0, m.Seeds[0].Quality, 1e-9) // density(1.0) * (1 + 2 unique branches)
	assert.Equal(t, 1, m.Counters["int a()"].Seed)
}

func TestAppendSeedsCustomDensity(t *testing.T) {
	m := New(sampleGadgets(), 1.0, rand.New(rand.NewSource(1)))
	m.SetDensityFunc(func(staticsym.CriticalPath) float64 { return 2.0 })

	cov := covmodel.New()
	path := staticsym.CriticalPath{{Name: "a"}}
	m.AppendSeeds("h.c", cov, path)

	assert.InDelta(t, 2.0, m.Seeds[0].Quality, 1e-9)
}

func TestSelectUsesMutateFromSeedsWhenSeedsPresent(t *testing.T) {
	m := New(sampleGadgets(), 1.0, rand.New(rand.NewSource(42)))
	cov := covmodel.New()

	path := staticsym.CriticalPath{{Name: "a"}, {Name: "b"}}
	m.AppendSeeds("h.c", cov, path)

	// With a single seed, |seeds|/100 is tiny, so most draws take the
	// energy branch; force the mutate-from-seeds path deterministically by
	// calling it directly instead of relying on the probabilistic gate.
	picked := m.mutateFromSeeds(cov, 4)
	assert.NotEmpty(t, picked)
}

func TestCrossoverSplicesShorterIntoLonger(t *testing.T) {
	m := New(sampleGadgets(), 1.0, rand.New(rand.NewSource(3)))
	base := []staticsym.APIGadget{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	other := []staticsym.APIGadget{{Name: "d"}}

	out := m.opCrossover(base, other, 1)
	names := make(map[string]struct{})
	for _, g := range out {
		names[g.Name] = struct{}{}
	}
	assert.Contains(t, names, "d")
}

func TestConvergeBaselineAlwaysFalse(t *testing.T) {
	m := New(sampleGadgets(), 1.0, nil)
	assert.False(t, m.Converge())
}

func TestDumpLoadRoundTrip(t *testing.T) {
	m := New(sampleGadgets(), 1.5, rand.New(rand.NewSource(9)))
	m.Counters["int a()"].Prompt = 3
	m.AppendSeeds("h.c", covmodel.New(), staticsym.CriticalPath{{Name: "a"}})

	data, err := m.Dump()
	require.NoError(t, err)

	loaded := New(nil, 0, rand.New(rand.NewSource(9)))
	require.NoError(t, loaded.Load(data))

	assert.Equal(t, m.Exponent, loaded.Exponent)
	assert.Equal(t, m.Gadgets, loaded.Gadgets)
	assert.Equal(t, 3, loaded.Counters["int a()"].Prompt)
	assert.Len(t, loaded.Seeds, 1)
}

func TestSelectClampsToMaxlen(t *testing.T) {
	m := New(sampleGadgets(), 1.0, rand.New(rand.NewSource(5)))
	picked := m.Select(covmodel.New(), 1, 2)
	assert.LessOrEqual(t, len(picked), 2)
}
