package pipelinecore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWorkflowIDHasPrefixAndIsUnique(t *testing.T) {
	a := NewWorkflowID()
	b := NewWorkflowID()

	require.True(t, strings.HasPrefix(a, "wf_"))
	require.NotEqual(t, a, b)
}

func TestNewCheckpointIDHasPrefix(t *testing.T) {
	id := NewCheckpointID()
	require.True(t, strings.HasPrefix(id, "ckpt_"))
	// "ckpt_" + UTC timestamp ("20060102_150405", itself underscore-separated)
	// + "_" + 4 random bytes hex-encoded, e.g. ckpt_20260806_182259_a1b2c3d4.
	require.GreaterOrEqual(t, len(strings.Split(id, "_")), 3)
}

func TestNewStageLogIDHasPrefix(t *testing.T) {
	id := NewStageLogID()
	require.True(t, strings.HasPrefix(id, "stagelog_"))
}

func TestRandomHexProducesRequestedLength(t *testing.T) {
	hex := randomHex(4)
	require.Len(t, hex, 8)
}
