package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/vaultsync/internal/ir"
)

// Snapshot returns the canonical JSON of a run log without run id,
// timestamps or transaction hashes.
func Snapshot(r *ir.RunResult) ([]byte, error) {
	return ir.MarshalCanonical(ir.RunObject(r, false))
}

// RunWithGolden executes a scenario and compares the last run log against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the run log doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return result, err
	}
	return result, nil
}

// AssertGolden compares the result's last run log against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(result.Last())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
