package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
)

func TestParseDefinition_NamedSliceGroups(t *testing.T) {
	raw := []byte(`{
		"GLOBAL": {
			"TB-Derivatives": {
				"essentialName": "TB-Derivatives",
				"displayName": "DERIVATIVES",
				"context": "GLOBAL",
				"schemaJson": {
					"datasets": [
						{
							"datasetId": "deriv_aggregation",
							"sequenceOrder": 2,
							"sliceGroups": {
								"DERIV": ["AWS_OTC_DERIV_AGG_EMEA", "AWS_OTC_DERIV_AGG_APAC"]
							}
						},
						{
							"datasetId": "deriv_ingest",
							"sequenceOrder": 1
						}
					]
				}
			}
		}
	}`)

	def, err := ParseDefinition(raw, "TB-Derivatives")
	require.NoError(t, err)

	assert.Equal(t, "TB-Derivatives", def.Name)
	assert.Equal(t, "DERIVATIVES", def.DisplayName)
	require.Len(t, def.Datasets, 2)

	// Datasets come back sorted by sequence order.
	assert.Equal(t, "deriv_ingest", def.Datasets[0].DatasetID)
	assert.Equal(t, "deriv_aggregation", def.Datasets[1].DatasetID)

	// Absent sliceGroups still yields a non-nil map.
	assert.NotNil(t, def.Datasets[0].SliceGroups)
	assert.Empty(t, def.Datasets[0].AllSlices())

	assert.ElementsMatch(t,
		[]string{"AWS_OTC_DERIV_AGG_EMEA", "AWS_OTC_DERIV_AGG_APAC"},
		def.Datasets[1].AllSlices())
}

func TestParseDefinition_FlatSliceGroups(t *testing.T) {
	raw := []byte(`{
		"GLOBAL": {
			"PBSynthetics": {
				"essentialName": "PBSynthetics",
				"displayName": "PBSynthetics",
				"context": "GLOBAL",
				"schemaJson": {
					"datasets": [
						{
							"datasetId": "pb_positions",
							"sequenceOrder": 1,
							"sliceGroups": {"slices": ["PB-GLOBAL-SLICE", "PB-EMEA-SLICE"]}
						}
					]
				}
			}
		}
	}`)

	def, err := ParseDefinition(raw, "PBSynthetics")
	require.NoError(t, err)
	require.Len(t, def.Datasets, 1)
	assert.ElementsMatch(t,
		[]string{"PB-GLOBAL-SLICE", "PB-EMEA-SLICE"},
		def.Datasets[0].AllSlices())
}

func TestParseDefinition_SkipsNonListGroupValues(t *testing.T) {
	raw := []byte(`{
		"GLOBAL": {
			"UPC": {
				"essentialName": "UPC",
				"schemaJson": {
					"datasets": [
						{
							"datasetId": "upc_load",
							"sequenceOrder": 1,
							"sliceGroups": {"meta": {"nested": true}, "slices": ["UPC-SLICE"]}
						}
					]
				}
			}
		}
	}`)

	def, err := ParseDefinition(raw, "UPC")
	require.NoError(t, err)
	assert.Equal(t, []string{"UPC-SLICE"}, def.Datasets[0].AllSlices())
}

func TestParseDefinition_NonGlobalContext(t *testing.T) {
	raw := []byte(`{
		"AMERICAS": {
			"SNU": {
				"essentialName": "SNU",
				"context": "AMERICAS",
				"schemaJson": {"datasets": [{"datasetId": "snu_load", "sequenceOrder": 1}]}
			}
		}
	}`)

	def, err := ParseDefinition(raw, "SNU")
	require.NoError(t, err)
	assert.Equal(t, "AMERICAS", def.Context)
}

func TestParseDefinition_NameNotFound(t *testing.T) {
	raw := []byte(`{"GLOBAL": {}}`)

	_, err := ParseDefinition(raw, "TB-Derivatives")
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindUnknownBatch))
}

func TestParseDefinition_MalformedResponse(t *testing.T) {
	_, err := ParseDefinition([]byte(`not json`), "SNU")
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConnectivity))
}
