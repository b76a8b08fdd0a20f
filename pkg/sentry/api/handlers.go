package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tigerroll/sentry/pkg/sentry/router"

	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

const healthPingTimeout = 2 * time.Second

func (s *Server) handleChat(c *gin.Context) {
	var req router.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	resp := s.chat.Handle(c.Request.Context(), req, nil)
	c.JSON(http.StatusOK, resp)
}

// handleChatStream runs a turn with live lifecycle events over SSE. The
// terminal response is followed by a [DONE] sentinel.
func (s *Server) handleChatStream(c *gin.Context) {
	var req router.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	emit := func(ev router.Event) {
		c.SSEvent(string(ev.Type), ev)
		c.Writer.Flush()
	}
	s.chat.Handle(c.Request.Context(), req, emit)

	if _, err := c.Writer.WriteString("data: [DONE]\n\n"); err != nil {
		logger.Warnf("Failed to write SSE sentinel: %v", err)
	}
	c.Writer.Flush()
}

// handleEssentials aggregates the latest state of every known batch into one
// dashboard payload. A batch whose state cannot be fetched appears with an
// error note instead of sinking the whole response.
func (s *Server) handleEssentials(c *gin.Context) {
	businessDate := c.Query("date")
	if businessDate == "" {
		businessDate = s.now().Format("2006-01-02")
	}
	processingType := c.Query("processing_type")

	resp := EssentialsResponse{
		BusinessDate: businessDate,
		Essentials:   []EssentialSummary{},
	}
	for _, name := range s.catalog.CanonicalNames() {
		summary := EssentialSummary{Name: name, DisplayName: s.displayName(name)}

		def, err := s.catalog.GetDefinition(c.Request.Context(), name)
		if err != nil {
			logger.Warnf("Dashboard: definition for '%s' unavailable: %v", name, err)
			summary.Error = exception.UserMessage(err)
			resp.Incomplete = true
			resp.Essentials = append(resp.Essentials, summary)
			continue
		}
		summary.DisplayName = def.DisplayName

		progress, err := s.progress.GetBatchProgress(c.Request.Context(), def, businessDate, processingType)
		if err != nil {
			logger.Warnf("Dashboard: progress for '%s' unavailable: %v", name, err)
			summary.Error = exception.UserMessage(err)
			resp.Incomplete = true
			resp.Essentials = append(resp.Essentials, summary)
			continue
		}
		summary.Status = progress.Status
		summary.PartialFailure = progress.PartialFailure
		summary.SuccessfulDatasets = progress.SuccessfulDatasets
		summary.TotalDatasets = progress.TotalDatasets
		resp.Essentials = append(resp.Essentials, summary)
	}
	c.JSON(http.StatusOK, resp)
}

// displayName renders a batch name for the dashboard when no catalog
// definition is available, falling back from the configured display names
// to the canonical name itself.
func (s *Server) displayName(canonical string) string {
	if dn, ok := s.cfg.Sentry.Catalog.DisplayNames[canonical]; ok && dn != "" {
		return dn
	}
	return canonical
}

// handleStatus returns one batch's aggregated progress, bypassing the
// conversational flow entirely.
func (s *Server) handleStatus(c *gin.Context) {
	name := c.Param("name")
	progress, err := s.chat.BatchStatus(c.Request.Context(), name, c.Query("date"), c.Query("processing_type"))
	if err != nil {
		c.JSON(statusCodeFor(err), gin.H{"error": exception.UserMessage(err)})
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (s *Server) handleCatalogRefresh(c *gin.Context) {
	s.catalog.InvalidateAll()
	err := s.catalog.PrefetchAll(c.Request.Context())
	resp := gin.H{"batches": len(s.catalog.CanonicalNames())}
	if err != nil {
		logger.Warnf("Catalog refresh completed with errors: %v", err)
		resp["incomplete"] = true
		resp["error"] = exception.UserMessage(err)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	checks := gin.H{}
	healthy := true
	for _, store := range []string{"workflow", "task"} {
		if err := s.health.Ping(ctx, store); err != nil {
			checks[store] = "unreachable"
			healthy = false
		} else {
			checks[store] = "ok"
		}
	}

	// Configuration presence only; the collaborators are not probed on
	// every health poll.
	collaborators := gin.H{
		"catalog": configuredLabel(s.cfg.Sentry.Catalog.BaseURL != ""),
		"llm":     configuredLabel(s.cfg.Sentry.LLM.APIKey != ""),
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "stores": checks, "collaborators": collaborators})
}

func configuredLabel(configured bool) string {
	if configured {
		return "configured"
	}
	return "not_configured"
}

// statusCodeFor maps an error kind to an HTTP status.
func statusCodeFor(err error) int {
	switch exception.KindOf(err) {
	case exception.KindUnknownBatch, exception.KindValidation:
		return http.StatusNotFound
	case exception.KindTimeout:
		return http.StatusGatewayTimeout
	case exception.KindConnectivity:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
