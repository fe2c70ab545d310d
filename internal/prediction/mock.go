package prediction

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

const (
	maxAlternatives = 2

	primaryMin      = 70.0
	primarySpan     = 30.0
	alternativeMin  = 30.0
	alternativeSpan = 40.0
)

// MockGenerator synthesizes plausible predictions when the service is
// unavailable. It is safe for concurrent use.
type MockGenerator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	breeds []string
}

// NewMockGenerator draws from breeds using a time-seeded source.
func NewMockGenerator(breeds []string) *MockGenerator {
	return NewMockGeneratorWithSource(breeds, rand.NewSource(time.Now().UnixNano()))
}

// NewMockGeneratorWithSource uses src so results are reproducible.
func NewMockGeneratorWithSource(breeds []string, src rand.Source) *MockGenerator {
	seen := make(map[string]struct{}, len(breeds))
	unique := make([]string, 0, len(breeds))
	for _, b := range breeds {
		if _, ok := seen[b]; ok || b == "" {
			continue
		}
		seen[b] = struct{}{}
		unique = append(unique, b)
	}
	return &MockGenerator{
		rng:    rand.New(src),
		breeds: unique,
	}
}

// Generate picks a primary breed with confidence in [70,100) and up to two
// distinct alternatives with confidence in [30,70), sorted descending.
// It returns nil when no breeds are configured.
func (g *MockGenerator) Generate() *BreedPrediction {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.breeds) == 0 {
		return nil
	}

	primaryIdx := g.rng.Intn(len(g.breeds))
	p := &BreedPrediction{
		PrimaryBreed: g.breeds[primaryIdx],
		Confidence:   g.draw(primaryMin, primarySpan),
		Alternatives: []Alternative{},
	}

	others := make([]string, 0, len(g.breeds)-1)
	for i, b := range g.breeds {
		if i != primaryIdx {
			others = append(others, b)
		}
	}
	g.rng.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })

	for _, b := range others {
		if len(p.Alternatives) == maxAlternatives {
			break
		}
		p.Alternatives = append(p.Alternatives, Alternative{
			Breed:      b,
			Confidence: g.draw(alternativeMin, alternativeSpan),
		})
	}
	sort.SliceStable(p.Alternatives, func(i, j int) bool {
		return p.Alternatives[i].Confidence > p.Alternatives[j].Confidence
	})
	return p
}

// draw returns a value in [min, min+span). Float64 is below 1 but the sum can
// still round up to the bound, so that case is pulled back by one ulp.
func (g *MockGenerator) draw(min, span float64) float64 {
	upper := min + span
	v := min + g.rng.Float64()*span
	if v >= upper {
		v = math.Nextafter(upper, min)
	}
	return v
}
