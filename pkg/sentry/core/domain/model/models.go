package model

import (
	"sort"
	"time"
)

// RunStatus represents the state of one workflow run attempt.
type RunStatus string

const (
	RunStatusSuccess   RunStatus = "SUCCESS"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusQueued    RunStatus = "QUEUED"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// IsTerminal checks if the RunStatus represents a finished state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// ValidRunStatuses lists every status value the workflow store emits.
var ValidRunStatuses = []RunStatus{
	RunStatusSuccess, RunStatusFailed, RunStatusCancelled, RunStatusRunning, RunStatusQueued,
}

// ProcessingType identifies which of the daily processing passes a run belongs to.
type ProcessingType string

const (
	// ProcessingPrelim is the first daily pass.
	ProcessingPrelim ProcessingType = "PRELIM"
	// ProcessingFinal is the second/rerun daily pass.
	ProcessingFinal ProcessingType = "FINAL"
	// ProcessingManual is an operator-triggered run.
	ProcessingManual ProcessingType = "MANUAL"
)

// String returns the ProcessingType as a string.
func (p ProcessingType) String() string {
	return string(p)
}

// triggerTypeMap is the fixed, non-overridable mapping between processing
// types and the trigger classification recorded by the workflow store.
// ProcessTrigger is the first run of the day, RerunTrigger the second,
// ManualTrigger an SRE intervention.
var triggerTypeMap = map[ProcessingType]string{
	ProcessingPrelim: "ProcessTrigger",
	ProcessingFinal:  "RerunTrigger",
	ProcessingManual: "ManualTrigger",
}

// triggerTypeReverse is the inverse of triggerTypeMap.
var triggerTypeReverse = func() map[string]ProcessingType {
	m := make(map[string]ProcessingType, len(triggerTypeMap))
	for k, v := range triggerTypeMap {
		m[v] = k
	}
	return m
}()

// TriggerForProcessingType returns the workflow-store trigger classification
// for a processing type. The second return is false for unknown types.
func TriggerForProcessingType(p ProcessingType) (string, bool) {
	t, ok := triggerTypeMap[p]
	return t, ok
}

// ProcessingTypeForTrigger maps a raw trigger classification back to its
// processing type. Unknown triggers are returned verbatim so they remain
// visible in results instead of disappearing.
func ProcessingTypeForTrigger(trigger string) ProcessingType {
	if p, ok := triggerTypeReverse[trigger]; ok {
		return p
	}
	return ProcessingType(trigger)
}

// ParseProcessingType validates a user-supplied processing type string.
func ParseProcessingType(s string) (ProcessingType, bool) {
	switch ProcessingType(s) {
	case ProcessingPrelim, ProcessingFinal, ProcessingManual:
		return ProcessingType(s), true
	default:
		return "", false
	}
}

// ExecutionRecord is one row of the workflow store: a single execution
// attempt of one dataset/slice. Attempts are additive; retries and manual
// reruns never replace history, so "latest" is always a query-time
// reduction on CreatedDate.
type ExecutionRecord struct {
	RunInstanceKey  string     `gorm:"column:WORKFLOW_RUN_INSTANCE_KEY" json:"run_instance_key"`
	WorkflowID      string     `gorm:"column:WORKFLOW_ID" json:"workflow_id"`
	DagID           string     `gorm:"column:DAG_ID" json:"dag_id"`
	RunID           string     `gorm:"column:DAG_RUN_ID" json:"run_id"`
	Status          RunStatus  `gorm:"column:STATUS" json:"status"`
	StatusDetail    string     `gorm:"column:STATUS_DETAIL" json:"status_detail,omitempty"`
	TriggerType     string     `gorm:"column:TRIGGER_TYPE" json:"trigger_type"`
	CreatedDate     time.Time  `gorm:"column:CREATED_DATE" json:"created_date"`
	UpdatedDate     *time.Time `gorm:"column:UPDATED_DATE" json:"updated_date,omitempty"`
	OutputDatasetID string     `gorm:"column:OUTPUT_DATASET_ID" json:"output_dataset_id"`
	BusinessDate    string     `gorm:"column:BUSINESS_DATE" json:"business_date"`
}

// TableName returns the workflow store table for ExecutionRecord.
func (ExecutionRecord) TableName() string {
	return "WORKFLOW_RUN_INSTANCE"
}

// ProcessingType derives the processing type from the record's trigger classification.
func (r *ExecutionRecord) ProcessingType() ProcessingType {
	return ProcessingTypeForTrigger(r.TriggerType)
}

// Duration returns the run's elapsed time: creation to last update for
// terminal runs, creation to now for a running one. The result is never
// negative; zero is returned when the record carries no usable timestamps.
func (r *ExecutionRecord) Duration(now time.Time) time.Duration {
	if r.CreatedDate.IsZero() {
		return 0
	}
	end := now
	if r.Status.IsTerminal() && r.UpdatedDate != nil {
		end = *r.UpdatedDate
	} else if r.UpdatedDate != nil && r.Status != RunStatusRunning && r.Status != RunStatusQueued {
		end = *r.UpdatedDate
	}
	d := end.Sub(r.CreatedDate)
	if d < 0 {
		return 0
	}
	return d
}

// TaskRecord is one row of the task store: a single task attempt inside one
// run. It joins back to ExecutionRecord by exact string equality on RunID.
type TaskRecord struct {
	TaskID    string     `gorm:"column:task_id" json:"task_id"`
	DagID     string     `gorm:"column:dag_id" json:"dag_id"`
	RunID     string     `gorm:"column:run_id" json:"run_id"`
	State     string     `gorm:"column:state" json:"state"`
	Duration  *float64   `gorm:"column:duration" json:"duration,omitempty"`
	StartDate *time.Time `gorm:"column:start_date" json:"start_date,omitempty"`
	EndDate   *time.Time `gorm:"column:end_date" json:"end_date,omitempty"`
	TryNumber int        `gorm:"column:try_number" json:"try_number"`
	Hostname  string     `gorm:"column:hostname" json:"hostname,omitempty"`
	Operator  string     `gorm:"column:operator" json:"operator,omitempty"`
}

// TableName returns the task store table for TaskRecord.
func (TaskRecord) TableName() string {
	return "task_instance"
}

// DatasetDef describes one schedulable unit of work within a batch.
// DatasetID is globally unique and opaque: no naming convention may ever
// be assumed from it.
type DatasetDef struct {
	DatasetID     string              `json:"dataset_id"`
	SequenceOrder int                 `json:"sequence_order"`
	// SliceGroups maps a group label to its ordered slice names. An empty
	// map (never nil) means the catalog knows of no slice-level
	// decomposition for this dataset.
	SliceGroups map[string][]string `json:"slice_groups"`
}

// AllSlices flattens all slice groups into a single list.
// Group labels are visited in sorted order so the result is deterministic.
func (d *DatasetDef) AllSlices() []string {
	if len(d.SliceGroups) == 0 {
		return nil
	}
	labels := make([]string, 0, len(d.SliceGroups))
	for label := range d.SliceGroups {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	var slices []string
	for _, label := range labels {
		slices = append(slices, d.SliceGroups[label]...)
	}
	return slices
}

// BatchDefinition is the resolved form of a batch ("Essential"): an
// arbitrary, catalog-defined grouping of datasets. Immutable once
// constructed; Datasets are sorted by SequenceOrder ascending.
type BatchDefinition struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Context     string       `json:"context"`
	Datasets    []DatasetDef `json:"datasets"`
}

// DatasetIDs returns the dataset ids of all member datasets, in sequence order.
func (b *BatchDefinition) DatasetIDs() []string {
	ids := make([]string, 0, len(b.Datasets))
	for _, d := range b.Datasets {
		ids = append(ids, d.DatasetID)
	}
	return ids
}

// SequenceGroup is one execution step: the member datasets sharing a
// sequence order. Equal orders are parallel-eligible; later orders
// depend on earlier ones succeeding.
type SequenceGroup struct {
	Order    int
	Datasets []DatasetDef
}

// DatasetsBySequence groups datasets by sequence order, ascending.
func (b *BatchDefinition) DatasetsBySequence() []SequenceGroup {
	byOrder := make(map[int][]DatasetDef)
	for _, d := range b.Datasets {
		byOrder[d.SequenceOrder] = append(byOrder[d.SequenceOrder], d)
	}
	orders := make([]int, 0, len(byOrder))
	for o := range byOrder {
		orders = append(orders, o)
	}
	sort.Ints(orders)
	groups := make([]SequenceGroup, 0, len(orders))
	for _, o := range orders {
		groups = append(groups, SequenceGroup{Order: o, Datasets: byOrder[o]})
	}
	return groups
}

// FindDataset returns the member dataset with the given id, or nil.
func (b *BatchDefinition) FindDataset(datasetID string) *DatasetDef {
	for i := range b.Datasets {
		if b.Datasets[i].DatasetID == datasetID {
			return &b.Datasets[i]
		}
	}
	return nil
}

// SessionContext is the per-conversation state carried across turns of one
// thread. Process-local only: a restart loses all sessions, which is an
// accepted tradeoff for this scope.
type SessionContext struct {
	ThreadID           string
	LastBatch          string
	LastBusinessDate   string
	LastProcessingType ProcessingType
	TurnCount          int
	LastTouched        time.Time
}
