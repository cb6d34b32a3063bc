package conformance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequiresVersion(t *testing.T) {
	_, err := Parse([]byte(`{"steps": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing conformance_version")
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	_, err := Parse([]byte(`{"conformance_version": 7, "steps": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported conformance_version: 7")
}

func TestParseDefaultsWorkdir(t *testing.T) {
	manifest, err := Parse([]byte(`{"conformance_version": 0, "steps": []}`))
	require.NoError(t, err)
	assert.Equal(t, "work", manifest.Workdir)
}

func TestParseRejectsMissingOp(t *testing.T) {
	_, err := Parse([]byte(`{"conformance_version": 0, "steps": [{"id": "x", "pool": "p"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0 (x): missing op")
}

func TestParseRejectsAmbiguousTailExpectation(t *testing.T) {
	_, err := Parse([]byte(`{
		"conformance_version": 0,
		"steps": [{"op": "tail", "pool": "p", "expect": {
			"messages": [], "messages_unordered": []
		}}]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{nope`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse manifest json")
}
