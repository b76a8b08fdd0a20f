package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`{"intent": "status_check"}`, `{"intent": "status_check"}`},
		{"```json\n{\"intent\": \"status_check\"}\n```", `{"intent": "status_check"}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"  ```json\n{}\n```  ", `{}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripFences(tt.input))
	}
}

func TestParseClassification(t *testing.T) {
	result, err := parseClassification(`{
		"intent": "rca_drilldown",
		"batch_name": "derivatives",
		"business_date": "2026-08-28",
		"processing_type": null,
		"slice_ref": "EMEA",
		"run_id": null
	}`)
	require.NoError(t, err)
	assert.Equal(t, "rca_drilldown", result.Intent)
	assert.Equal(t, "derivatives", result.BatchName)
	assert.Equal(t, "2026-08-28", result.BusinessDate)
	assert.Empty(t, result.ProcessingType)
	assert.Equal(t, "EMEA", result.SliceRef)
}

func TestParseClassification_EmptyIntentDefaultsOutOfScope(t *testing.T) {
	result, err := parseClassification(`{"intent": ""}`)
	require.NoError(t, err)
	assert.Equal(t, "out_of_scope", result.Intent)
}

func TestParseClassification_Malformed(t *testing.T) {
	_, err := parseClassification("the batch is fine")
	assert.Error(t, err)
}
