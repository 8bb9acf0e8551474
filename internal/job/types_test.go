package job

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusQueued.Terminal())
	require.False(t, StatusInProgress.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestRunPayloadOmitsEmptyAgent(t *testing.T) {
	data, err := json.Marshal(RunPayload{InputText: "review my resume"})
	require.NoError(t, err)
	require.NotContains(t, string(data), "agent_id")

	var p RunPayload
	require.NoError(t, json.Unmarshal(data, &p))
	require.Equal(t, "review my resume", p.InputText)
	require.Empty(t, p.AgentID)
}
