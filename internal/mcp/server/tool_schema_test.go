package server

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMCPServer_ToolSchema_Register(t *testing.T) {
	t.Parallel()

	st := testStore(t)

	err := RegisterDescribeSchemaTool(testLogger(t), testMCP(t), st)
	require.NoError(t, err)

	err = RegisterSampleValuesTool(testLogger(t), testMCP(t), st)
	require.NoError(t, err)
}
