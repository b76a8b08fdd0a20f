package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/sentry/pkg/sentry/aggregate"
	"github.com/tigerroll/sentry/pkg/sentry/catalog"
	"github.com/tigerroll/sentry/pkg/sentry/guard"
	"github.com/tigerroll/sentry/pkg/sentry/llm"
	"github.com/tigerroll/sentry/pkg/sentry/session"
	"github.com/tigerroll/sentry/pkg/sentry/tools"

	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	model "github.com/tigerroll/sentry/pkg/sentry/core/domain/model"
	metrics "github.com/tigerroll/sentry/pkg/sentry/core/metrics"
	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

const moduleName = "router"

// statusRCALimit caps how many failed runs a plain status check enriches
// with task details. A dedicated rca_drilldown turn uses the configured,
// larger cap.
const statusRCALimit = 5

// failedTaskDisplayLimit caps the failed-task list embedded per run in a
// drilldown payload.
const failedTaskDisplayLimit = 10

// Router drives one conversational turn through the state machine.
type Router struct {
	resolver    *catalog.Resolver
	sessions    *session.Store
	tools       *tools.ToolSet
	aggregator  *aggregate.Aggregator
	guard       *guard.Guard
	classifier  Classifier
	synthesizer Synthesizer
	sqlgen      SQLGenerator
	recorder    metrics.MetricRecorder
	tracer      metrics.Tracer

	rcaMaxDrilldowns int
	now              func() time.Time
}

// NewRouter wires the orchestrator from its collaborators.
func NewRouter(
	cfg *config.Config,
	resolver *catalog.Resolver,
	sessions *session.Store,
	toolSet *tools.ToolSet,
	aggregator *aggregate.Aggregator,
	grd *guard.Guard,
	classifier Classifier,
	synthesizer Synthesizer,
	sqlgen SQLGenerator,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *Router {
	return &Router{
		resolver:         resolver,
		sessions:         sessions,
		tools:            toolSet,
		aggregator:       aggregator,
		guard:            grd,
		classifier:       classifier,
		synthesizer:      synthesizer,
		sqlgen:           sqlgen,
		recorder:         recorder,
		tracer:           tracer,
		rcaMaxDrilldowns: cfg.Sentry.Query.RCAMaxDrilldowns,
		now:              time.Now,
	}
}

// Handle runs one turn to completion. It never returns an error: every
// failure path terminates in a Response whose text explains the problem in
// operational terms.
func (r *Router) Handle(ctx context.Context, req Request, emit EmitFunc) *Response {
	// Turns on one thread run strictly in sequence so a turn's session
	// write lands before the next turn's read.
	if req.ThreadID != "" {
		release := r.sessions.LockThread(req.ThreadID)
		defer release()
	}

	started := r.now()
	t := &turn{r: r, req: req, emit: emit}

	resp := t.run(ctx)
	resp.ThreadID = req.ThreadID
	resp.ToolCalls = t.toolCalls
	if resp.ToolCalls == nil {
		resp.ToolCalls = []ToolCall{}
	}
	resp.Incomplete = resp.Incomplete || t.incomplete

	r.recorder.RecordRequest(ctx, string(resp.Intent), r.now().Sub(started), resp.IsError)
	t.event(Event{Type: EventResponse, Payload: resp})
	return resp
}

// BatchStatus resolves a batch by user-facing name and returns its aggregated
// progress, bypassing classification. Used by the direct status endpoint.
func (r *Router) BatchStatus(ctx context.Context, name, businessDate, processingType string) (*aggregate.BatchProgress, error) {
	def, err := r.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if businessDate == "" {
		businessDate = r.now().Format("2006-01-02")
	}
	return r.tools.GetBatchProgress(ctx, def, businessDate, processingType)
}

// turn is the mutable state of one Handle invocation.
type turn struct {
	r          *Router
	req        Request
	emit       EmitFunc
	toolCalls  []ToolCall
	incomplete bool
}

func (t *turn) event(ev Event) {
	if t.emit != nil {
		t.emit(ev)
	}
}

// enter emits node_start, opens a span, and returns the matching close.
func (t *turn) enter(ctx context.Context, state State) (context.Context, func()) {
	t.event(Event{Type: EventNodeStart, Name: string(state)})
	spanCtx, end := t.r.tracer.StartSpan(ctx, "router."+string(state))
	return spanCtx, func() {
		end()
		t.event(Event{Type: EventNodeEnd, Name: string(state)})
	}
}

// beginTool emits tool_call and returns a closure that records the call and
// emits tool_result once the tool returns.
func (t *turn) beginTool(tool string, input map[string]interface{}) func(err error) {
	t.event(Event{Type: EventToolCall, Name: tool, Payload: input})
	started := t.r.now()
	return func(err error) {
		t.toolCalls = append(t.toolCalls, ToolCall{
			Tool:       tool,
			Input:      input,
			DurationMs: t.r.now().Sub(started).Milliseconds(),
		})
		t.event(Event{Type: EventToolResult, Name: tool, Payload: map[string]interface{}{"ok": err == nil}})
	}
}

func (t *turn) run(ctx context.Context) *Response {
	clsCtx, done := t.enter(ctx, StateClassify)
	cls, err := t.r.classifier.Classify(clsCtx, t.req.Message, t.r.now().Format("2006-01-02"))
	done()
	if err != nil {
		t.r.tracer.RecordError(ctx, moduleName, err)
		return t.errorResponse(IntentOutOfScope, err)
	}

	intent := Intent(cls.Intent)
	effective := t.r.sessions.Merge(t.req.ThreadID, session.TurnOverrides{
		Batch:          cls.BatchName,
		BusinessDate:   firstNonEmpty(t.req.BusinessDate, cls.BusinessDate),
		ProcessingType: firstNonEmpty(t.req.ProcessingType, cls.ProcessingType),
	})
	logger.Debugf("Turn %s classified as %s (batch=%q date=%s type=%q)",
		t.req.ThreadID, intent, effective.Batch, effective.BusinessDate, effective.ProcessingType)

	switch intent {
	case IntentStatusCheck:
		return t.statusCheck(ctx, cls, effective)
	case IntentRCADrilldown:
		return t.rcaDrilldown(ctx, cls, effective)
	case IntentTaskDetail:
		return t.taskDetail(ctx, cls, effective)
	case IntentPrediction:
		return t.prediction(ctx, effective)
	case IntentGeneralQuery:
		return t.generalQuery(ctx, effective)
	default:
		return t.outOfScope()
	}
}

// resolveBatch runs the RESOLVE_BATCH state. A missing batch reference and
// an unknown batch both surface as a user-facing error response.
func (t *turn) resolveBatch(ctx context.Context, intent Intent, effective session.EffectiveContext) (*model.BatchDefinition, *Response) {
	resCtx, done := t.enter(ctx, StateResolveBatch)
	defer done()
	if strings.TrimSpace(effective.Batch) == "" {
		err := exception.Newf(moduleName, exception.KindUnknownBatch,
			"no batch named; ask again with a batch name, e.g. one of %s",
			strings.Join(t.r.resolver.CanonicalNames(), ", "))
		return nil, t.errorResponse(intent, err)
	}
	def, err := t.r.resolver.Resolve(resCtx, effective.Batch)
	if err != nil {
		t.r.tracer.RecordError(ctx, moduleName, err)
		return nil, t.errorResponse(intent, err)
	}
	return def, nil
}

func (t *turn) statusCheck(ctx context.Context, cls *llm.Classification, effective session.EffectiveContext) *Response {
	def, errResp := t.resolveBatch(ctx, IntentStatusCheck, effective)
	if errResp != nil {
		return errResp
	}

	fetchCtx, done := t.enter(ctx, StateFetchTier1)
	doneTool := t.beginTool("fetch_execution_records", map[string]interface{}{
		"batch": def.Name, "business_date": effective.BusinessDate, "processing_type": effective.ProcessingType,
	})
	records, err := t.r.tools.FetchExecutionRecords(fetchCtx, def.DatasetIDs(), effective.BusinessDate, effective.ProcessingType)
	doneTool(err)
	if err != nil {
		done()
		t.r.tracer.RecordError(ctx, moduleName, err)
		return t.errorResponse(IntentStatusCheck, err)
	}

	// Slice-scoped follow-up when the user named a region or slice.
	sliceResults := map[string]*tools.SliceStatusResult{}
	if cls.SliceRef != "" {
		for _, ds := range def.Datasets {
			patterns := catalog.ResolveSliceFilter(def, ds.DatasetID, cls.SliceRef)
			if len(patterns) == 0 {
				continue
			}
			doneTool = t.beginTool("get_slice_status", map[string]interface{}{
				"dataset_id": ds.DatasetID, "slices": patterns,
			})
			res, serr := t.r.tools.GetSliceStatus(fetchCtx, ds.DatasetID, effective.BusinessDate, patterns, effective.ProcessingType)
			doneTool(serr)
			if serr != nil {
				t.incomplete = true
				logger.Warnf("Slice status for %s unavailable: %v", ds.DatasetID, serr)
				continue
			}
			sliceResults[ds.DatasetID] = res
		}
	}
	done()

	_, done = t.enter(ctx, StateAggregate)
	progress := t.r.aggregator.Aggregate(def, records, effective.BusinessDate, effective.ProcessingType)
	done()

	// Enrich failures with task-level context so the answer can name the
	// failing operator, not just the failing run.
	failedTasks := t.drilldownFailures(ctx, progress, statusRCALimit, []string{"failed"})

	payload := map[string]interface{}{"progress": progress}
	if len(sliceResults) > 0 {
		payload["slices"] = sliceResults
	}
	if len(failedTasks) > 0 {
		payload["failed_tasks"] = failedTasks
	}

	t.r.sessions.Update(t.req.ThreadID, effective)
	fallback := fmt.Sprintf("%s on %s: %s (%d of %d datasets succeeded).",
		progress.DisplayName, progress.BusinessDate, progress.Status,
		progress.SuccessfulDatasets, progress.TotalDatasets)
	return t.respond(ctx, IntentStatusCheck, &StructuredData{Type: "batch_status", Payload: payload}, fallback)
}

func (t *turn) rcaDrilldown(ctx context.Context, cls *llm.Classification, effective session.EffectiveContext) *Response {
	def, errResp := t.resolveBatch(ctx, IntentRCADrilldown, effective)
	if errResp != nil {
		return errResp
	}

	fetchCtx, done := t.enter(ctx, StateFetchTier1)
	doneTool := t.beginTool("fetch_execution_records", map[string]interface{}{
		"batch": def.Name, "business_date": effective.BusinessDate, "processing_type": effective.ProcessingType,
	})
	records, err := t.r.tools.FetchExecutionRecords(fetchCtx, def.DatasetIDs(), effective.BusinessDate, effective.ProcessingType)
	doneTool(err)
	done()
	if err != nil {
		t.r.tracer.RecordError(ctx, moduleName, err)
		return t.errorResponse(IntentRCADrilldown, err)
	}

	_, done = t.enter(ctx, StateAggregate)
	progress := t.r.aggregator.Aggregate(def, records, effective.BusinessDate, effective.ProcessingType)
	done()

	drilldowns := t.drilldownFailures(ctx, progress, t.r.rcaMaxDrilldowns, nil)
	t.r.sessions.Update(t.req.ThreadID, effective)

	if len(drilldowns) == 0 {
		text := fmt.Sprintf("No failed runs found for %s on %s. Nothing to drill into.",
			progress.DisplayName, progress.BusinessDate)
		return &Response{
			Intent:           IntentRCADrilldown,
			Text:             text,
			StructuredData:   &StructuredData{Type: "text_only"},
			SuggestedQueries: defaultSuggestions(IntentRCADrilldown),
		}
	}

	payload := map[string]interface{}{
		"progress":   progress,
		"drilldowns": drilldowns,
	}
	fallback := fmt.Sprintf("%s on %s has %d failed run(s); task details attached.",
		progress.DisplayName, progress.BusinessDate, len(drilldowns))
	return t.respond(ctx, IntentRCADrilldown, &StructuredData{Type: "rca_analysis", Payload: payload}, fallback)
}

// drilldown is the per-failed-run payload of an RCA analysis.
type drilldown struct {
	RunID       string             `json:"run_id"`
	DatasetID   string             `json:"dataset_id"`
	Slice       string             `json:"slice,omitempty"`
	TaskSummary map[string]int     `json:"task_summary"`
	FailedTasks []failedTaskDetail `json:"failed_tasks"`
	TotalTasks  int                `json:"total_tasks"`
}

type failedTaskDetail struct {
	TaskID    string  `json:"task_id"`
	State     string  `json:"state"`
	Duration  *float64 `json:"duration_seconds,omitempty"`
	Hostname  string  `json:"hostname,omitempty"`
	Operator  string  `json:"operator,omitempty"`
	TryNumber int     `json:"try_number"`
}

// drilldownFailures fetches task details for each failed slice run, oldest
// sequence step first, up to limit runs. Per-run fetch failures degrade the
// result to partial instead of discarding the successes.
func (t *turn) drilldownFailures(ctx context.Context, progress *aggregate.BatchProgress, limit int, stateFilter []string) []drilldown {
	type failedRun struct {
		runID     string
		datasetID string
		slice     string
	}
	var failed []failedRun
	for _, step := range progress.Steps {
		for _, ds := range step.Datasets {
			for _, sl := range ds.Slices {
				if sl.Status == string(aggregate.StatusFailed) && sl.RunID != "" {
					failed = append(failed, failedRun{runID: sl.RunID, datasetID: ds.DatasetID, slice: sl.Slice})
				}
			}
		}
	}
	if len(failed) == 0 {
		return nil
	}
	if limit > 0 && len(failed) > limit {
		logger.Infof("Capping RCA drilldown to %d of %d failed runs", limit, len(failed))
		failed = failed[:limit]
	}

	fetchCtx, done := t.enter(ctx, StateFetchTier1)
	defer done()

	var result []drilldown
	var errs *multierror.Error
	for _, fr := range failed {
		doneTool := t.beginTool("get_task_details", map[string]interface{}{
			"run_id": fr.runID, "state_filter": stateFilter,
		})
		details, err := t.r.tools.GetTaskDetails(fetchCtx, fr.runID, stateFilter)
		doneTool(err)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("run %s: %w", fr.runID, err))
			continue
		}
		d := drilldown{
			RunID:       fr.runID,
			DatasetID:   fr.datasetID,
			Slice:       fr.slice,
			TaskSummary: details.Summary,
			TotalTasks:  details.Total,
		}
		for _, task := range details.Tasks {
			if !strings.EqualFold(task.State, "failed") {
				continue
			}
			if len(d.FailedTasks) >= failedTaskDisplayLimit {
				break
			}
			d.FailedTasks = append(d.FailedTasks, failedTaskDetail{
				TaskID:    task.TaskID,
				State:     task.State,
				Duration:  task.Duration,
				Hostname:  task.Hostname,
				Operator:  task.Operator,
				TryNumber: task.TryNumber,
			})
		}
		result = append(result, d)
	}
	if err := errs.ErrorOrNil(); err != nil {
		t.r.tracer.RecordError(ctx, moduleName, err)
		if len(result) > 0 {
			// Partial result: some drilldowns landed, some did not.
			t.incomplete = true
			logger.Warnf("RCA drilldown partially failed: %v", err)
		}
	}
	return result
}

func (t *turn) taskDetail(ctx context.Context, cls *llm.Classification, effective session.EffectiveContext) *Response {
	runID := cls.RunID
	if runID == "" {
		runID = extractRunID(t.req.Message)
	}
	if runID == "" {
		return &Response{
			Intent: IntentTaskDetail,
			Text: "I couldn't find a run id in that request. Include one " +
				"(they start with FGW_), or ask for the batch status first.",
			StructuredData:   &StructuredData{Type: "text_only"},
			IsError:          true,
			SuggestedQueries: defaultSuggestions(IntentTaskDetail),
		}
	}

	fetchCtx, done := t.enter(ctx, StateFetchTier1)
	doneTool := t.beginTool("get_task_details", map[string]interface{}{"run_id": runID})
	details, err := t.r.tools.GetTaskDetails(fetchCtx, runID, nil)
	doneTool(err)
	done()
	if err != nil {
		t.r.tracer.RecordError(ctx, moduleName, err)
		return t.errorResponse(IntentTaskDetail, err)
	}

	t.r.sessions.Update(t.req.ThreadID, effective)
	payload := map[string]interface{}{"run_id": runID, "details": details}
	fallback := fmt.Sprintf("Run %s has %d task(s); per-state counts attached.", runID, details.Total)
	return t.respond(ctx, IntentTaskDetail, &StructuredData{Type: "task_details", Payload: payload}, fallback)
}

func (t *turn) prediction(ctx context.Context, effective session.EffectiveContext) *Response {
	const preamble = "Runtime prediction is coming in a future release."

	if strings.TrimSpace(effective.Batch) == "" {
		return &Response{
			Intent:           IntentPrediction,
			Text:             preamble + " I can show you historical runtimes for a batch right now, just name one.",
			StructuredData:   &StructuredData{Type: "text_only"},
			SuggestedQueries: defaultSuggestions(IntentPrediction),
		}
	}

	def, errResp := t.resolveBatch(ctx, IntentPrediction, effective)
	if errResp != nil {
		return errResp
	}

	// Historical baselines stand in until a real forecast exists.
	fetchCtx, done := t.enter(ctx, StateFetchTier1)
	history := map[string]*tools.HistoryResult{}
	var errs *multierror.Error
	for i, ds := range def.Datasets {
		if i >= t.r.rcaMaxDrilldowns {
			break
		}
		doneTool := t.beginTool("get_historical_runs", map[string]interface{}{"dataset_id": ds.DatasetID})
		res, err := t.r.tools.GetHistoricalRuns(fetchCtx, ds.DatasetID, 0, effective.ProcessingType)
		doneTool(err)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("dataset %s: %w", ds.DatasetID, err))
			continue
		}
		history[ds.DatasetID] = res
	}
	done()
	if err := errs.ErrorOrNil(); err != nil {
		t.r.tracer.RecordError(ctx, moduleName, err)
		if len(history) == 0 {
			return t.errorResponse(IntentPrediction, err)
		}
		t.incomplete = true
		logger.Warnf("Historical lookup partially failed: %v", err)
	}

	t.r.sessions.Update(t.req.ThreadID, effective)
	payload := map[string]interface{}{
		"batch":   def.Name,
		"note":    preamble,
		"history": history,
	}
	fallback := fmt.Sprintf("%s Historical runtime statistics for %s are attached.", preamble, def.DisplayName)
	return t.respond(ctx, IntentPrediction, &StructuredData{Type: "historical_comparison", Payload: payload}, fallback)
}

func (t *turn) generalQuery(ctx context.Context, effective session.EffectiveContext) *Response {
	facts := llm.Facts{
		BusinessDate:   effective.BusinessDate,
		ProcessingType: effective.ProcessingType,
	}
	if strings.TrimSpace(effective.Batch) != "" {
		def, errResp := t.resolveBatch(ctx, IntentGeneralQuery, effective)
		if errResp != nil {
			return errResp
		}
		facts.BatchName = def.Name
		facts.DatasetIDs = def.DatasetIDs()
	}

	fetchCtx, done := t.enter(ctx, StateFetchTier2)
	candidate, err := t.r.sqlgen.Generate(fetchCtx, t.req.Message, facts)
	if err != nil {
		done()
		t.r.tracer.RecordError(ctx, moduleName, err)
		return t.errorResponse(IntentGeneralQuery, err)
	}

	safe, err := t.r.guard.Validate(fetchCtx, candidate)
	if err != nil {
		done()
		if exception.IsKind(err, exception.KindValidation) {
			// A rejected candidate is a refusal, not an outage.
			return &Response{
				Intent: IntentGeneralQuery,
				Text: exception.UserMessage(err) +
					" I can only read the workflow and task monitoring tables.",
				StructuredData:   &StructuredData{Type: "text_only"},
				IsError:          true,
				SuggestedQueries: defaultSuggestions(IntentGeneralQuery),
			}
		}
		t.r.tracer.RecordError(ctx, moduleName, err)
		return t.errorResponse(IntentGeneralQuery, err)
	}

	doneTool := t.beginTool("tier2_execute", map[string]interface{}{"tables": safe.Tables})
	rows, err := t.r.guard.Execute(fetchCtx, safe)
	doneTool(err)
	done()
	if err != nil {
		t.r.tracer.RecordError(ctx, moduleName, err)
		return t.errorResponse(IntentGeneralQuery, err)
	}

	t.r.sessions.Update(t.req.ThreadID, effective)
	payload := map[string]interface{}{
		"sql":       safe.SQL,
		"row_count": len(rows),
		"rows":      rows,
	}
	fallback := fmt.Sprintf("The query returned %d row(s); results attached.", len(rows))
	return t.respond(ctx, IntentGeneralQuery, &StructuredData{Type: "text_only", Payload: payload}, fallback)
}

func (t *turn) outOfScope() *Response {
	return &Response{
		Intent: IntentOutOfScope,
		Text: "I monitor regulatory batch pipelines. I can check batch status, " +
			"drill into failed runs, show task-level details for a run, compare " +
			"historical runtimes, and answer ad-hoc read-only questions about " +
			"workflow and task records.",
		StructuredData:   &StructuredData{Type: "text_only"},
		SuggestedQueries: defaultSuggestions(IntentOutOfScope),
	}
}

// respond runs the RESPOND state: the structured payload goes through the
// synthesizer; on any synthesis failure the deterministic fallback text is
// used so the structured data still reaches the caller.
func (t *turn) respond(ctx context.Context, intent Intent, data *StructuredData, fallback string) *Response {
	resCtx, done := t.enter(ctx, StateRespond)
	defer done()

	text := fallback
	var suggestions []string
	synthCtx, merr := json.Marshal(map[string]interface{}{
		"intent":     intent,
		"question":   t.req.Message,
		"incomplete": t.incomplete,
		"data":       data,
	})
	if merr == nil {
		syn, err := t.r.synthesizer.Synthesize(resCtx, string(synthCtx))
		if err != nil {
			t.r.tracer.RecordError(ctx, moduleName, err)
			logger.Warnf("Synthesis failed, using deterministic text: %v", err)
		} else if syn.Text != "" {
			text = syn.Text
			suggestions = syn.SuggestedQueries
		}
	}
	if len(suggestions) == 0 {
		suggestions = defaultSuggestions(intent)
	}
	return &Response{
		Intent:           intent,
		Text:             text,
		StructuredData:   data,
		SuggestedQueries: suggestions,
	}
}

// errorResponse terminates the turn with a user-facing failure. Session
// state is deliberately not updated on this path.
func (t *turn) errorResponse(intent Intent, err error) *Response {
	return &Response{
		Intent:           intent,
		Text:             exception.UserMessage(err),
		StructuredData:   &StructuredData{Type: "text_only"},
		IsError:          true,
		SuggestedQueries: defaultSuggestions(intent),
	}
}

func defaultSuggestions(intent Intent) []string {
	switch intent {
	case IntentStatusCheck:
		return []string{"Drill into the failures", "Show yesterday's run", "How long does this batch usually take?"}
	case IntentRCADrilldown:
		return []string{"Show task details for the first failed run", "Check today's status again"}
	case IntentTaskDetail:
		return []string{"Why did this batch fail?", "Check the batch status"}
	case IntentPrediction:
		return []string{"Check today's status", "Compare against last week"}
	case IntentGeneralQuery:
		return []string{"Check a batch status", "Show failed runs for today"}
	default:
		return []string{"Check DERIV status", "Why did FR2052A fail today?"}
	}
}

// extractRunID pulls an orchestrator run id token out of free text.
func extractRunID(message string) string {
	for _, token := range strings.Fields(message) {
		token = strings.TrimRight(token, `.,;:!?"')`)
		if strings.HasPrefix(token, "FGW_") {
			return token
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
