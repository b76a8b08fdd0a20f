package catalog

import (
	"encoding/json"
	"sort"

	model "github.com/tigerroll/sentry/pkg/sentry/core/domain/model"
	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
)

// rawDataset mirrors one entry of schemaJson.datasets in the catalog response.
type rawDataset struct {
	DatasetID     string                     `json:"datasetId"`
	SequenceOrder int                        `json:"sequenceOrder"`
	SliceGroups   map[string]json.RawMessage `json:"sliceGroups"`
}

// rawEssential mirrors one named definition inside a context block.
type rawEssential struct {
	EssentialName string `json:"essentialName"`
	DisplayName   string `json:"displayName"`
	Context       string `json:"context"`
	SchemaJSON    struct {
		Datasets []rawDataset `json:"datasets"`
	} `json:"schemaJson"`
}

// ParseDefinition parses the nested catalog response into a BatchDefinition.
//
// The response nests definitions under context blocks:
//
//	{"GLOBAL": {"TB-Derivatives": {"essentialName": ..., "schemaJson": {...}}}}
//
// sliceGroups comes in three shapes and all must parse to the same model:
//  1. Flat:   {"slices": ["PB-GLOBAL-SLICE", ...]}
//  2. Named:  {"DERIV": ["AWS_OTC_DERIV_AGG_EMEA", ...]}
//  3. Absent: no sliceGroups key at all
//
// Group values that are not string lists are skipped. The result always
// carries a non-nil SliceGroups map so callers never branch on nil.
func ParseDefinition(raw []byte, essentialName string) (*model.BatchDefinition, error) {
	var envelope map[string]map[string]rawEssential
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, exception.New(moduleName, "malformed catalog response", exception.KindConnectivity, err)
	}

	essential, ok := findEssential(envelope, essentialName)
	if !ok {
		return nil, exception.Newf(moduleName, exception.KindUnknownBatch,
			"batch '%s' not found in catalog response", essentialName)
	}

	datasets := make([]model.DatasetDef, 0, len(essential.SchemaJSON.Datasets))
	for _, d := range essential.SchemaJSON.Datasets {
		groups := make(map[string][]string)
		for label, rawValue := range d.SliceGroups {
			var slices []string
			if err := json.Unmarshal(rawValue, &slices); err != nil {
				continue
			}
			groups[label] = slices
		}
		datasets = append(datasets, model.DatasetDef{
			DatasetID:     d.DatasetID,
			SequenceOrder: d.SequenceOrder,
			SliceGroups:   groups,
		})
	}

	sort.SliceStable(datasets, func(i, j int) bool {
		return datasets[i].SequenceOrder < datasets[j].SequenceOrder
	})

	def := &model.BatchDefinition{
		Name:        essential.EssentialName,
		DisplayName: essential.DisplayName,
		Context:     essential.Context,
		Datasets:    datasets,
	}
	if def.Name == "" {
		def.Name = essentialName
	}
	if def.DisplayName == "" {
		def.DisplayName = def.Name
	}
	if def.Context == "" {
		def.Context = "GLOBAL"
	}
	return def, nil
}

// findEssential looks the name up in the GLOBAL context first, then scans
// the remaining context blocks.
func findEssential(envelope map[string]map[string]rawEssential, essentialName string) (rawEssential, bool) {
	if global, ok := envelope["GLOBAL"]; ok {
		if essential, ok := global[essentialName]; ok {
			return essential, true
		}
	}
	for contextName, block := range envelope {
		if contextName == "GLOBAL" {
			continue
		}
		if essential, ok := block[essentialName]; ok {
			return essential, true
		}
	}
	return rawEssential{}, false
}
