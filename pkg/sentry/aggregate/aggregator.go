// Package aggregate turns flat per-dataset execution rows into
// sequence-grouped batch progress.
package aggregate

import (
	"sort"
	"strings"
	"time"

	model "github.com/tigerroll/sentry/pkg/sentry/core/domain/model"
)

// Status classifies a dataset, step, or whole batch.
type Status string

const (
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusRunning    Status = "RUNNING"
	StatusNotStarted Status = "NOT_STARTED"
	// StatusWaiting marks a step blocked behind an incomplete predecessor
	// step. Blocked is a distinct condition from not started.
	StatusWaiting Status = "WAITING"
)

// SliceProgress is the latest execution state of one slice of a dataset.
type SliceProgress struct {
	Slice           string    `json:"slice"`
	RunID           string    `json:"run_id"`
	Status          string    `json:"status"`
	DurationSeconds float64   `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// DatasetProgress is the classified state of one dataset.
type DatasetProgress struct {
	DatasetID     string          `json:"dataset_id"`
	SequenceOrder int             `json:"sequence_order"`
	Status        Status          `json:"status"`
	Slices        []SliceProgress `json:"slices"`
}

// StepProgress is the classified state of one sequence step.
type StepProgress struct {
	Order              int               `json:"order"`
	Status             Status            `json:"status"`
	Datasets           []DatasetProgress `json:"datasets"`
	SuccessfulDatasets int               `json:"successful_datasets"`
	TotalDatasets      int               `json:"total_datasets"`
}

// BatchProgress is the full aggregation result for one
// (batch, business_date, processing_type).
type BatchProgress struct {
	Batch          string         `json:"batch"`
	DisplayName    string         `json:"display_name"`
	BusinessDate   string         `json:"business_date"`
	ProcessingType string         `json:"processing_type,omitempty"`
	Status         Status         `json:"status"`
	// PartialFailure is set when the batch failed but some datasets
	// still completed successfully.
	PartialFailure     bool           `json:"partial_failure"`
	SuccessfulDatasets int            `json:"successful_datasets"`
	TotalDatasets      int            `json:"total_datasets"`
	Steps              []StepProgress `json:"steps"`
}

// Aggregator reduces execution records into classified batch progress.
type Aggregator struct {
	now func() time.Time
}

// NewAggregator creates an Aggregator using the wall clock.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// Aggregate classifies the given execution records against the batch
// definition. Records are expected to be pre-filtered to one
// (business_date, processing_type); retries and reruns are reduced here
// to the latest record per distinct slice.
func (a *Aggregator) Aggregate(def *model.BatchDefinition, records []model.ExecutionRecord, businessDate, processingType string) *BatchProgress {
	byDataset := make(map[string][]model.ExecutionRecord)
	for _, rec := range records {
		byDataset[rec.OutputDatasetID] = append(byDataset[rec.OutputDatasetID], rec)
	}

	progress := &BatchProgress{
		Batch:          def.Name,
		DisplayName:    def.DisplayName,
		BusinessDate:   businessDate,
		ProcessingType: processingType,
		TotalDatasets:  len(def.Datasets),
	}

	now := a.now()
	for _, group := range def.DatasetsBySequence() {
		step := StepProgress{Order: group.Order, TotalDatasets: len(group.Datasets)}
		for _, ds := range group.Datasets {
			dp := a.aggregateDataset(ds, byDataset[ds.DatasetID], now)
			if dp.Status == StatusSuccess {
				step.SuccessfulDatasets++
				progress.SuccessfulDatasets++
			}
			step.Datasets = append(step.Datasets, dp)
		}
		step.Status = classifyStep(step.Datasets)
		progress.Steps = append(progress.Steps, step)
	}

	applyWaiting(progress.Steps)
	progress.Status = classifyBatch(progress.Steps)
	progress.PartialFailure = progress.Status == StatusFailed && progress.SuccessfulDatasets > 0
	return progress
}

// aggregateDataset reduces one dataset's records to latest-per-slice and
// classifies the dataset.
func (a *Aggregator) aggregateDataset(ds model.DatasetDef, records []model.ExecutionRecord, now time.Time) DatasetProgress {
	dp := DatasetProgress{
		DatasetID:     ds.DatasetID,
		SequenceOrder: ds.SequenceOrder,
		Slices:        []SliceProgress{},
	}

	latest := latestPerSlice(ds, records)

	// Deterministic slice ordering in the output.
	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	statuses := make([]Status, 0, len(keys))
	for _, key := range keys {
		rec := latest[key]
		statuses = append(statuses, recordStatus(rec))
		dp.Slices = append(dp.Slices, SliceProgress{
			Slice:           key,
			RunID:           rec.RunID,
			Status:          string(rec.Status),
			DurationSeconds: rec.Duration(now).Seconds(),
			CreatedAt:       rec.CreatedDate,
		})
	}

	dp.Status = classify(statuses)
	return dp
}

// latestPerSlice partitions records by slice and keeps the newest record of
// each partition. A record is assigned to the catalog slice whose label
// appears in its run identifier; records of a sliceless dataset, or records
// matching no catalog slice, fall into a single unnamed partition.
func latestPerSlice(ds model.DatasetDef, records []model.ExecutionRecord) map[string]model.ExecutionRecord {
	slices := ds.AllSlices()
	latest := make(map[string]model.ExecutionRecord)
	for _, rec := range records {
		key := ""
		for _, slice := range slices {
			if strings.Contains(rec.RunID, slice) {
				key = slice
				break
			}
		}
		if existing, ok := latest[key]; !ok || rec.CreatedDate.After(existing.CreatedDate) {
			latest[key] = rec
		}
	}
	return latest
}

func recordStatus(rec model.ExecutionRecord) Status {
	switch rec.Status {
	case model.RunStatusFailed:
		return StatusFailed
	case model.RunStatusRunning, model.RunStatusQueued:
		return StatusRunning
	case model.RunStatusSuccess:
		return StatusSuccess
	default: // CANCELLED
		return StatusNotStarted
	}
}

// classify applies the shared precedence to a set of member statuses:
// any FAILED wins, then any RUNNING, then no members at all means
// NOT_STARTED, then all SUCCESS/CANCELLED with at least one SUCCESS is
// SUCCESS. A set of only cancelled members is neither failing nor
// successful, so it reports NOT_STARTED.
func classify(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusNotStarted
	}
	anySuccess := false
	for _, s := range statuses {
		switch s {
		case StatusFailed:
			return StatusFailed
		case StatusSuccess:
			anySuccess = true
		}
	}
	for _, s := range statuses {
		if s == StatusRunning {
			return StatusRunning
		}
	}
	if anySuccess {
		return StatusSuccess
	}
	return StatusNotStarted
}

func classifyStep(datasets []DatasetProgress) Status {
	statuses := make([]Status, 0, len(datasets))
	allNotStarted := len(datasets) > 0
	for _, dp := range datasets {
		statuses = append(statuses, dp.Status)
		if dp.Status != StatusNotStarted {
			allNotStarted = false
		}
	}
	// classify() maps an all-NOT_STARTED set to NOT_STARTED only through
	// the "no members" branch, so handle it explicitly.
	if allNotStarted {
		return StatusNotStarted
	}
	return classify(statuses)
}

// applyWaiting marks every step whose immediate predecessor is not fully
// SUCCESS as WAITING, regardless of the step's own datasets.
func applyWaiting(steps []StepProgress) {
	for i := 1; i < len(steps); i++ {
		if steps[i-1].Status != StatusSuccess {
			steps[i].Status = StatusWaiting
		}
	}
}

// classifyBatch applies the shared precedence across steps, folding
// WAITING into NOT_STARTED at the batch level.
func classifyBatch(steps []StepProgress) Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		s := step.Status
		if s == StatusWaiting {
			s = StatusNotStarted
		}
		statuses = append(statuses, s)
	}
	allNotStarted := len(statuses) > 0
	anyRunning := false
	for _, s := range statuses {
		switch s {
		case StatusFailed:
			return StatusFailed
		case StatusRunning:
			anyRunning = true
		}
		if s != StatusNotStarted {
			allNotStarted = false
		}
	}
	if anyRunning {
		return StatusRunning
	}
	if allNotStarted || len(statuses) == 0 {
		return StatusNotStarted
	}
	// Some steps succeeded; if any are still NOT_STARTED the batch is not
	// done yet, it is effectively in flight.
	for _, s := range statuses {
		if s == StatusNotStarted {
			return StatusRunning
		}
	}
	return StatusSuccess
}
