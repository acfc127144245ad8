package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseValidator_Validate(t *testing.T) {
	v, err := NewResponseValidator(map[string][]string{
		"lac-weak-signals":  {"vertical"},
		"lac-analyst-leads": {"evaluationScore", "auditOpportunity"},
	})
	require.NoError(t, err)

	tests := []struct {
		name        string
		agent       string
		doc         map[string]interface{}
		wantValid   bool
		wantMissing []string
	}{
		{
			name:      "enrichment with vertical",
			agent:     "lac-weak-signals",
			doc:       map[string]interface{}{"vertical": "Hotel", "city": nil},
			wantValid: true,
		},
		{
			name:      "null vertical still present",
			agent:     "lac-weak-signals",
			doc:       map[string]interface{}{"vertical": nil},
			wantValid: true,
		},
		{
			name:        "analysis missing both fields",
			agent:       "lac-analyst-leads",
			doc:         map[string]interface{}{"auditOpportunityReason": "n/a"},
			wantValid:   false,
			wantMissing: []string{"auditOpportunity", "evaluationScore"},
		},
		{
			name:      "unknown agent always validates",
			agent:     "other",
			doc:       map[string]interface{}{},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := v.Validate(tt.agent, tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, result.Valid)
			assert.Equal(t, tt.wantMissing, result.MissingFields())
		})
	}
}

func TestResponseValidator_RegisterRejectsBadSchema(t *testing.T) {
	v, err := NewResponseValidator(nil)
	require.NoError(t, err)

	err = v.Register("broken", map[string]interface{}{"type": "banana"})
	assert.Error(t, err)
}
