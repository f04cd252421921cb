package testutil

// FixedRunID returns the same run ID every time.
//
// Scenarios set the ID in YAML so traces and golden files are stable:
//
//	run_id: "run-scenario-a"
//
// If id is empty, Generate() returns "test-run-default".
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a generator that always returns id.
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunID{id: id}
}

// Generate implements engine.RunIDGenerator.
func (g *FixedRunID) Generate() string {
	return g.id
}
