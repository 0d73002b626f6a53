// Package mutator implements the coverage- and seed-aware API-combination
// scheduler: an energy-driven pick over the target library's API universe,
// with a seed bank of validated critical paths that bias later selections
// via mutate-from-seeds.
package mutator

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"

	"github.com/zjy-dev/defuzz-harness/internal/covmodel"
	"github.com/zjy-dev/defuzz-harness/internal/staticsym"
)

// DefaultCrossoverWindow is the default splice window (k) used by the
// replace and crossover operators.
const DefaultCrossoverWindow = 3

// DensityFunc scores the quality contribution of a validated critical path
// beyond its unique-branch count. The default density is a constant 1.0;
// callers may plug in a richer heuristic (e.g. penalizing very long paths).
type DensityFunc func(path staticsym.CriticalPath) float64

func defaultDensity(staticsym.CriticalPath) float64 { return 1.0 }

// counter tracks how many times a gadget has been prompted and how many
// times it has appeared in a validated seed.
type counter struct {
	Prompt int `json:"prompt"`
	Seed   int `json:"seed"`
}

// SeedRecord is one entry of the mutator's seed bank: a validated harness's
// critical path plus the quality score used for weighted sampling.
type SeedRecord struct {
	Quality      float64               `json:"quality"`
	CriticalPath staticsym.CriticalPath `json:"critical_path"`
	Source       string                `json:"source"`
}

// Mutator is the API-combination scheduler. Gadgets is the fixed universe of
// callable surface points discovered by the static analyzer; Counters and
// Seeds evolve across trials.
type Mutator struct {
	Gadgets  []staticsym.APIGadget   `json:"gadgets"`
	Counters map[string]*counter     `json:"counters"` // keyed by gadget signature
	Seeds    []SeedRecord            `json:"seeds"`
	Exponent float64                 `json:"exponent"`

	rng     *rand.Rand
	density DensityFunc
}

// New returns a Mutator over gadgets with the given energy decay exponent.
// rng may be nil, in which case a time-independent default source is used;
// tests should always inject a seeded *rand.Rand for determinism.
func New(gadgets []staticsym.APIGadget, exponent float64, rng *rand.Rand) *Mutator {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	m := &Mutator{
		Gadgets:  gadgets,
		Counters: make(map[string]*counter),
		Exponent: exponent,
		rng:      rng,
		density:  defaultDensity,
	}
	for _, g := range gadgets {
		m.Counters[g.Signature()] = &counter{}
	}
	return m
}

// SetDensityFunc overrides the seed-quality density function.
func (m *Mutator) SetDensityFunc(f DensityFunc) {
	if f == nil {
		f = defaultDensity
	}
	m.density = f
}

// energy computes E(g) = (1 - cov_branch(g.name).or(0)) /
// ((1+seed_count)*(1+prompt_count))^exponent.
func (m *Mutator) energy(g staticsym.APIGadget, cov *covmodel.Coverage) float64 {
	ratio, ok := cov.CoverBranch(g.Name)
	if !ok {
		ratio = 0
	}
	c := m.Counters[g.Signature()]
	if c == nil {
		c = &counter{}
	}
	denom := math.Pow(float64((1+c.Seed)*(1+c.Prompt)), m.Exponent)
	if denom == 0 {
		denom = 1
	}
	return (1 - ratio) / denom
}

// Select schedules the next trial's API combination.
func (m *Mutator) Select(globalCov *covmodel.Coverage, minlen, maxlen int) []staticsym.APIGadget {
	if len(m.Gadgets) == 0 {
		return nil
	}

	p := math.Min(float64(len(m.Seeds))/100.0, 0.8)
	if len(m.Seeds) > 0 && m.rng.Float64() < p {
		picked := m.mutateFromSeeds(globalCov, maxlen)
		m.recordPrompt(picked)
		return m.clampLen(picked, minlen, maxlen)
	}

	ranked := m.rankByEnergy(globalCov)
	picked := m.topN(ranked, maxlen)
	m.recordPrompt(picked)
	return m.clampLen(picked, minlen, maxlen)
}

// energyEntry pairs a gadget with its computed energy for ranking.
type energyEntry struct {
	gadget staticsym.APIGadget
	energy float64
}

func (m *Mutator) rankByEnergy(globalCov *covmodel.Coverage) []energyEntry {
	entries := make([]energyEntry, len(m.Gadgets))
	for i, g := range m.Gadgets {
		entries[i] = energyEntry{gadget: g, energy: m.energy(g, globalCov)}
	}
	// Shuffle first so that equal-energy ties break randomly, then do a
	// stable sort by descending energy: ties retain the shuffled order.
	m.rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].energy > entries[j].energy })
	return entries
}

func (m *Mutator) topN(ranked []energyEntry, n int) []staticsym.APIGadget {
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]staticsym.APIGadget, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].gadget
	}
	return out
}

func (m *Mutator) clampLen(gadgets []staticsym.APIGadget, minlen, maxlen int) []staticsym.APIGadget {
	if len(gadgets) > maxlen {
		gadgets = gadgets[:maxlen]
	}
	if len(gadgets) < minlen {
		ranked := m.rankByEnergy(covmodel.New())
		have := make(map[string]struct{}, len(gadgets))
		for _, g := range gadgets {
			have[g.Signature()] = struct{}{}
		}
		for _, e := range ranked {
			if len(gadgets) >= minlen {
				break
			}
			if _, ok := have[e.gadget.Signature()]; ok {
				continue
			}
			gadgets = append(gadgets, e.gadget)
			have[e.gadget.Signature()] = struct{}{}
		}
	}
	return gadgets
}

// mutateFromSeeds samples one seed weighted by quality, projects its
// critical path to a deduplicated gadget list, and applies a uniformly
// chosen operator (insert/replace/crossover).
func (m *Mutator) mutateFromSeeds(globalCov *covmodel.Coverage, maxlen int) []staticsym.APIGadget {
	seed := m.weightedSeed()
	base := m.pathToGadgets(seed.CriticalPath)

	switch m.rng.Intn(3) {
	case 0:
		return m.opInsert(base, globalCov, maxlen)
	case 1:
		return m.opReplace(base, globalCov, maxlen, DefaultCrossoverWindow)
	default:
		other := m.weightedSeed()
		return m.opCrossover(base, m.pathToGadgets(other.CriticalPath), DefaultCrossoverWindow)
	}
}

func (m *Mutator) weightedSeed() SeedRecord {
	total := 0.0
	for _, s := range m.Seeds {
		total += s.Quality
	}
	if total <= 0 {
		return m.Seeds[m.rng.Intn(len(m.Seeds))]
	}
	target := m.rng.Float64() * total
	acc := 0.0
	for _, s := range m.Seeds {
		acc += s.Quality
		if acc >= target {
			return s
		}
	}
	return m.Seeds[len(m.Seeds)-1]
}

func (m *Mutator) pathToGadgets(path staticsym.CriticalPath) []staticsym.APIGadget {
	byName := make(map[string]staticsym.APIGadget, len(m.Gadgets))
	for _, g := range m.Gadgets {
		byName[g.Name] = g
	}
	seen := make(map[string]struct{})
	var out []staticsym.APIGadget
	for _, name := range path.Names() {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if g, ok := byName[name]; ok {
			out = append(out, g)
		}
	}
	return out
}

// opInsert fills base up to maxlen with the highest-energy gadgets absent
// from it, inserted at random positions.
func (m *Mutator) opInsert(base []staticsym.APIGadget, globalCov *covmodel.Coverage, maxlen int) []staticsym.APIGadget {
	have := make(map[string]struct{}, len(base))
	for _, g := range base {
		have[g.Signature()] = struct{}{}
	}

	out := append([]staticsym.APIGadget(nil), base...)
	for _, e := range m.rankByEnergy(globalCov) {
		if len(out) >= maxlen {
			break
		}
		if _, ok := have[e.gadget.Signature()]; ok {
			continue
		}
		pos := m.rng.Intn(len(out) + 1)
		out = append(out, staticsym.APIGadget{})
		copy(out[pos+1:], out[pos:])
		out[pos] = e.gadget
		have[e.gadget.Signature()] = struct{}{}
	}
	return out
}

// opReplace removes the k lowest-energy members of base, then applies
// opInsert.
func (m *Mutator) opReplace(base []staticsym.APIGadget, globalCov *covmodel.Coverage, maxlen, k int) []staticsym.APIGadget {
	if k > len(base) {
		k = len(base)
	}
	type scored struct {
		gadget staticsym.APIGadget
		energy float64
	}
	scoredList := make([]scored, len(base))
	for i, g := range base {
		scoredList[i] = scored{gadget: g, energy: m.energy(g, globalCov)}
	}
	sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].energy < scoredList[j].energy })

	remove := make(map[string]struct{}, k)
	for i := 0; i < k; i++ {
		remove[scoredList[i].gadget.Signature()] = struct{}{}
	}

	var kept []staticsym.APIGadget
	for _, g := range base {
		if _, ok := remove[g.Signature()]; ok {
			continue
		}
		kept = append(kept, g)
	}
	return m.opInsert(kept, globalCov, maxlen)
}

// opCrossover splices a contiguous k-window from the shorter of base/other
// into the longer at a random offset.
func (m *Mutator) opCrossover(base, other []staticsym.APIGadget, k int) []staticsym.APIGadget {
	shorter, longer := base, other
	if len(longer) < len(shorter) {
		shorter, longer = longer, shorter
	}
	if len(shorter) == 0 || len(longer) == 0 {
		return append([]staticsym.APIGadget(nil), longer...)
	}
	if k > len(shorter) {
		k = len(shorter)
	}
	start := 0
	if len(shorter) > k {
		start = m.rng.Intn(len(shorter) - k + 1)
	}
	window := shorter[start : start+k]

	offset := m.rng.Intn(len(longer) + 1)
	out := make([]staticsym.APIGadget, 0, len(longer)+len(window))
	out = append(out, longer[:offset]...)
	out = append(out, window...)
	out = append(out, longer[offset:]...)
	return dedupGadgets(out)
}

func dedupGadgets(gadgets []staticsym.APIGadget) []staticsym.APIGadget {
	seen := make(map[string]struct{}, len(gadgets))
	var out []staticsym.APIGadget
	for _, g := range gadgets {
		if _, ok := seen[g.Signature()]; ok {
			continue
		}
		seen[g.Signature()] = struct{}{}
		out = append(out, g)
	}
	return out
}

func (m *Mutator) recordPrompt(gadgets []staticsym.APIGadget) {
	for _, g := range gadgets {
		c, ok := m.Counters[g.Signature()]
		if !ok {
			c = &counter{}
			m.Counters[g.Signature()] = c
		}
		c.Prompt++
	}
}

// AppendSeeds records a validated harness's critical path into the seed
// bank, scoring quality = density(path) * (1 + unique_branch_count), and
// bumps each named gadget's seed counter.
func (m *Mutator) AppendSeeds(source string, cov *covmodel.Coverage, path staticsym.CriticalPath) {
	uniqueBranches := len(cov.NonzeroBranches())
	quality := m.density(path) * (1 + float64(uniqueBranches))

	m.Seeds = append(m.Seeds, SeedRecord{
		Quality:      quality,
		CriticalPath: path,
		Source:       source,
	})

	for _, name := range path.Names() {
		for _, g := range m.Gadgets {
			if g.Name != name {
				continue
			}
			c, ok := m.Counters[g.Signature()]
			if !ok {
				c = &counter{}
				m.Counters[g.Signature()] = c
			}
			c.Seed++
		}
	}
}

// Converge reports whether the mutator believes no further trials are
// useful. The baseline mutator never converges on its own; convergence is
// the controller's responsibility.
func (m *Mutator) Converge() bool {
	return false
}

// persistedState is the JSON-serializable snapshot of a Mutator, excluding
// its non-serializable rng/density fields.
type persistedState struct {
	Gadgets  []staticsym.APIGadget `json:"gadgets"`
	Counters map[string]*counter   `json:"counters"`
	Seeds    []SeedRecord          `json:"seeds"`
	Exponent float64               `json:"exponent"`
}

// Dump serializes the Mutator's state to JSON.
func (m *Mutator) Dump() ([]byte, error) {
	return json.Marshal(persistedState{
		Gadgets:  m.Gadgets,
		Counters: m.Counters,
		Seeds:    m.Seeds,
		Exponent: m.Exponent,
	})
}

// Load restores state dumped by Dump, keeping the Mutator's existing rng and
// density function.
func (m *Mutator) Load(data []byte) error {
	var s persistedState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	m.Gadgets = s.Gadgets
	m.Counters = s.Counters
	if m.Counters == nil {
		m.Counters = make(map[string]*counter)
	}
	m.Seeds = s.Seeds
	m.Exponent = s.Exponent
	return nil
}
