package conformance

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// Step failure messages are part of the interpreter's contract: CI
// systems grep them. The golden file pins their exact shape.
func TestStepFailureMessages(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
	}{
		{
			name: "unknown_op",
			manifest: `{
				"conformance_version": 0,
				"steps": [{"id": "boom", "op": "frobnicate"}]
			}`,
		},
		{
			name: "append_missing_input",
			manifest: `{
				"conformance_version": 0,
				"steps": [
					{"op": "create_pool", "pool": "p"},
					{"op": "append", "pool": "p"}
				]
			}`,
		},
		{
			name: "expected_error_missing",
			manifest: `{
				"conformance_version": 0,
				"steps": [
					{"op": "create_pool", "pool": "p",
						"expect": {"error": {"kind": "AlreadyExists"}}}
				]
			}`,
		},
		{
			name: "wrong_error_kind",
			manifest: `{
				"conformance_version": 0,
				"steps": [
					{"op": "create_pool", "pool": "p"},
					{"op": "create_pool", "pool": "p",
						"expect": {"error": {"kind": "NotFound"}}}
				]
			}`,
		},
		{
			name: "tail_data_mismatch",
			manifest: `{
				"conformance_version": 0,
				"steps": [
					{"op": "create_pool", "pool": "p"},
					{"op": "append", "pool": "p", "input": {"data": {"a": 1}}},
					{"op": "tail", "pool": "p",
						"expect": {"messages": [{"data": {"a": 2}}]}}
				]
			}`,
		},
	}

	var out bytes.Buffer
	for _, tc := range cases {
		manifest, err := Parse([]byte(tc.manifest))
		require.NoError(t, err, tc.name)
		runner, err := NewRunner(fileBackendOptions())
		require.NoError(t, err, tc.name)

		runErr := runner.Run(manifest, t.TempDir())
		require.Error(t, runErr, tc.name)
		out.WriteString(tc.name + ": " + runErr.Error() + "\n")
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "step_failures", out.Bytes())
}
