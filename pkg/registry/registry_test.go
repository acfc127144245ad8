package registry

import (
	"os"
	"path/filepath"
	"testing"

	"feedly-pipeline/internal/common/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *StageRegistry {
	return Default(
		config.QueuesConfig{RawEvents: "q-raw-events", EnrichedEvents: "q-enriched-events", Opportunities: "q-opportunities"},
		config.AgentsConfig{
			Enrichment: config.AgentConfig{Name: "lac-weak-signals"},
			Analysis:   config.AgentConfig{Name: "lac-analyst-leads"},
		},
	)
}

func TestDefault_Topology(t *testing.T) {
	reg := testRegistry()
	require.NoError(t, reg.Validate())

	enrich, ok := reg.Lookup(StageEnrich)
	require.True(t, ok)
	assert.Equal(t, "q-raw-events", enrich.InputQueue)
	assert.Equal(t, "q-enriched-events", enrich.OutputQueue)
	assert.Equal(t, "lac-weak-signals", enrich.Agent)

	analyze, ok := reg.ByInputQueue("q-enriched-events")
	require.True(t, ok)
	assert.Equal(t, StageAnalyze, analyze.Stage)
	assert.Equal(t, "lac-analyst-leads", analyze.Agent)

	_, ok = reg.ByInputQueue("")
	assert.False(t, ok)

	assert.Equal(t, []string{"q-raw-events", "q-enriched-events", "q-opportunities"}, reg.Queues())
	assert.True(t, reg.IsKnownQueue("q-opportunities"))
	assert.False(t, reg.IsKnownQueue("q-unknown"))
}

func TestLoadRegistry_RoundTripsThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stages.json")
	require.NoError(t, testRegistry().Save(path))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	def, ok := reg.Lookup(StageNotify)
	require.True(t, ok)
	assert.Equal(t, WorkerNotifyOpportunity, def.WorkerType)
}

func TestLoadRegistry_Invalid(t *testing.T) {
	tests := map[string]string{
		"duplicate stage": `{"stages":[{"stage":"enrich"},{"stage":"enrich"}]}`,
		"self loop":       `{"stages":[{"stage":"enrich","inputQueue":"q","outputQueue":"q"}]}`,
		"missing name":    `{"stages":[{"inputQueue":"q"}]}`,
		"bad json":        `{"stages":`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stages.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			_, err := LoadRegistry(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
