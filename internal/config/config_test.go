package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDefaultsOverridesBuiltins(t *testing.T) {
	d := defaultDefaults()
	yamlDoc := `
updateRateSeconds: 5
threadCharLimit: 2000
approvalPolicy: autoApproveAll
reasoningEffort: high
`
	require.NoError(t, decodeDefaults(strings.NewReader(yamlDoc), &d))

	assert.Equal(t, 5, d.UpdateRateSeconds)
	assert.Equal(t, 2000, d.ThreadCharLimit)
	assert.Equal(t, "autoApproveAll", d.ApprovalPolicy)
	assert.Equal(t, "high", d.ReasoningEffort)
}

func TestDecodeDefaultsOnEmptyDocKeepsBuiltins(t *testing.T) {
	d := defaultDefaults()
	require.NoError(t, decodeDefaults(strings.NewReader(""), &d))
	assert.Equal(t, defaultDefaults(), d)
}

func TestLoadDefaultsFileMissingIsNotAnError(t *testing.T) {
	d := defaultDefaults()
	require.NoError(t, loadDefaultsFile("/nonexistent/turnbridge.yaml", &d))
	assert.Equal(t, defaultDefaults(), d)
}

func TestUpdateRateConvertsSecondsToDuration(t *testing.T) {
	d := Defaults{UpdateRateSeconds: 3}
	assert.Equal(t, float64(3), d.UpdateRate().Seconds())
}
