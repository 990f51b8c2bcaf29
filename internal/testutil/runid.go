package testutil

// FixedRunIDGenerator generates the same run id every time.
//
// Unlike engine.FixedGenerator, which returns ids in sequence and panics when
// exhausted, this generator never runs out. Use it where a test triggers an
// unknown number of runs, such as the scheduler loop.
//
// Thread-safety: FixedRunIDGenerator is stateless and safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a fixed generator. An empty id becomes
// "test-run-default".
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run id.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
