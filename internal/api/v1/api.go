package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"schemawatch/internal/api/response"
	"schemawatch/internal/service"
	"schemawatch/internal/types"
	"schemawatch/internal/validator"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// API represents the API
type API struct {
	service *service.Service
	logger  *zap.Logger
}

// NewAPI creates new API
func NewAPI(svc *service.Service, logger *zap.Logger) *API {
	return &API{
		service: svc,
		logger:  logger,
	}
}

// RegisterRoutes registers API routes
func (api *API) RegisterRoutes(r *gin.RouterGroup) {
	// Schema ingest endpoints
	schemas := r.Group("/schemas")
	{
		schemas.POST("", api.submitSchema)
	}

	// Source endpoints
	sources := r.Group("/sources")
	{
		sources.GET("", api.getSources)
		sources.GET("/:id/snapshot", api.getLatestSnapshot)
	}

	// Change ledger endpoints
	changes := r.Group("/changes")
	{
		changes.GET("", api.listChanges)
		changes.GET("/overdue", api.getOverdueChanges)
		changes.GET("/:id", api.getChange)
		changes.GET("/:id/history", api.getChangeHistory)
		changes.POST("/:id/transition", api.transitionChange)
	}

	// Reporting and maintenance
	r.GET("/report", api.getReport)
	r.POST("/digest/flush", api.flushDigest)
	r.POST("/deadlines/scan", api.scanDeadlines)

	// Health check
	r.GET("/health", api.healthCheck)
}

// submitSchema handles pushing one captured schema through the pipeline
func (api *API) submitSchema(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	var raw types.RawSchema
	if err := c.ShouldBindJSON(&raw); err != nil {
		api.logger.Error("Invalid schema payload",
			zap.Error(err),
			zap.String("client_ip", c.ClientIP()))
		resp.BadRequest(fmt.Errorf("invalid schema format: %v", err))
		return
	}

	if raw.CapturedAt.IsZero() {
		raw.CapturedAt = time.Now().UTC()
	}
	if err := validator.Struct(&raw); err != nil {
		resp.ValidationError(err)
		return
	}

	result, err := api.service.SubmitSchema(ctx, &raw)
	if err != nil {
		var normErr *types.NormalizationError
		if errors.As(err, &normErr) {
			resp.BadRequest(normErr)
			return
		}

		api.logger.Error("Failed to process schema",
			zap.Error(err),
			zap.String("source_id", raw.SourceID))
		resp.InternalError(errors.New("failed to process schema"))
		return
	}

	resp.Created(result)
}

// getSources handles listing all observed sources
func (api *API) getSources(c *gin.Context) {
	resp := response.New(c, api.logger)

	sources, err := api.service.Sources(c.Request.Context())
	if err != nil {
		api.logger.Error("Failed to list sources", zap.Error(err))
		resp.InternalError(errors.New("failed to list sources"))
		return
	}

	resp.Success(sources)
}

// getLatestSnapshot handles retrieving the newest snapshot of a source
func (api *API) getLatestSnapshot(c *gin.Context) {
	resp := response.New(c, api.logger)

	sourceID := c.Param("id")
	snapshot, err := api.service.LatestSnapshot(c.Request.Context(), sourceID)
	if err != nil {
		if errors.Is(err, types.ErrSnapshotNotFound) {
			resp.NotFound(fmt.Errorf("no snapshot for source %s", sourceID))
			return
		}
		api.logger.Error("Failed to load snapshot",
			zap.Error(err),
			zap.String("source_id", sourceID))
		resp.InternalError(errors.New("failed to load snapshot"))
		return
	}

	resp.Success(snapshot)
}

// listChanges handles filtered ledger queries
func (api *API) listChanges(c *gin.Context) {
	resp := response.New(c, api.logger)

	var query struct {
		SourceIDs  []string `form:"source_id"`
		Statuses   []string `form:"status"`
		Severities []string `form:"severity"`
		Since      string   `form:"since"`
		Until      string   `form:"until"`
		Limit      int      `form:"limit"`
		Offset     int      `form:"offset"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		resp.BadRequest(fmt.Errorf("invalid query: %v", err))
		return
	}

	filter := &types.ChangeFilter{
		SourceIDs: query.SourceIDs,
		Limit:     query.Limit,
		Offset:    query.Offset,
	}

	for _, s := range query.Statuses {
		status := types.ChangeStatus(s)
		if !status.IsValid() {
			resp.BadRequest(fmt.Errorf("unknown status %q", s))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, s := range query.Severities {
		sev := types.Severity(s)
		if !sev.IsValid() {
			resp.BadRequest(fmt.Errorf("unknown severity %q", s))
			return
		}
		filter.Severities = append(filter.Severities, sev)
	}

	if query.Since != "" {
		t, err := time.Parse(time.RFC3339, query.Since)
		if err != nil {
			resp.BadRequest(fmt.Errorf("invalid since: %v", err))
			return
		}
		filter.Since = t
	}
	if query.Until != "" {
		t, err := time.Parse(time.RFC3339, query.Until)
		if err != nil {
			resp.BadRequest(fmt.Errorf("invalid until: %v", err))
			return
		}
		filter.Until = t
	}

	changes, err := api.service.ListChanges(c.Request.Context(), filter)
	if err != nil {
		api.logger.Error("Failed to list changes", zap.Error(err))
		resp.InternalError(errors.New("failed to list changes"))
		return
	}

	resp.Success(changes)
}

// getOverdueChanges handles listing open changes past their deadline
func (api *API) getOverdueChanges(c *gin.Context) {
	resp := response.New(c, api.logger)

	changes, err := api.service.OverdueChanges(c.Request.Context())
	if err != nil {
		api.logger.Error("Failed to list overdue changes", zap.Error(err))
		resp.InternalError(errors.New("failed to list overdue changes"))
		return
	}

	resp.Success(changes)
}

// getChange handles retrieving one change by id
func (api *API) getChange(c *gin.Context) {
	resp := response.New(c, api.logger)

	changeID := c.Param("id")
	change, err := api.service.GetChange(c.Request.Context(), changeID)
	if err != nil {
		if errors.Is(err, types.ErrChangeNotFound) {
			resp.NotFound(fmt.Errorf("change %s not found", changeID))
			return
		}
		api.logger.Error("Failed to load change",
			zap.Error(err),
			zap.String("change_id", changeID))
		resp.InternalError(errors.New("failed to load change"))
		return
	}

	resp.Success(change)
}

// getChangeHistory handles retrieving the audit trail of a change
func (api *API) getChangeHistory(c *gin.Context) {
	resp := response.New(c, api.logger)

	changeID := c.Param("id")
	history, err := api.service.ChangeHistory(c.Request.Context(), changeID)
	if err != nil {
		api.logger.Error("Failed to load change history",
			zap.Error(err),
			zap.String("change_id", changeID))
		resp.InternalError(errors.New("failed to load change history"))
		return
	}

	resp.Success(history)
}

// transitionChange handles moving a change through its lifecycle
func (api *API) transitionChange(c *gin.Context) {
	resp := response.New(c, api.logger)

	changeID := c.Param("id")

	var body struct {
		To    string `json:"to" binding:"required"`
		Actor string `json:"actor"`
		Note  string `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		resp.BadRequest(fmt.Errorf("invalid transition request: %v", err))
		return
	}

	to := types.ChangeStatus(body.To)
	if !to.IsValid() {
		resp.BadRequest(fmt.Errorf("unknown status %q", body.To))
		return
	}

	change, err := api.service.TransitionChange(c.Request.Context(), changeID, to, body.Actor, body.Note)
	if err != nil {
		var invalid *types.InvalidTransitionError
		var conflict *types.LedgerConflictError
		switch {
		case errors.Is(err, types.ErrChangeNotFound):
			resp.NotFound(fmt.Errorf("change %s not found", changeID))
		case errors.As(err, &invalid):
			resp.ValidationError(invalid)
		case errors.As(err, &conflict):
			resp.Conflict(conflict)
		default:
			api.logger.Error("Failed to transition change",
				zap.Error(err),
				zap.String("change_id", changeID))
			resp.InternalError(errors.New("failed to transition change"))
		}
		return
	}

	resp.Success(change)
}

// getReport handles the aggregated ledger report
func (api *API) getReport(c *gin.Context) {
	resp := response.New(c, api.logger)

	report, err := api.service.Report(c.Request.Context())
	if err != nil {
		api.logger.Error("Failed to build report", zap.Error(err))
		resp.InternalError(errors.New("failed to build report"))
		return
	}

	resp.Success(report)
}

// flushDigest forces an immediate digest flush
func (api *API) flushDigest(c *gin.Context) {
	resp := response.New(c, api.logger)

	count, err := api.service.FlushDigest(c.Request.Context())
	if err != nil {
		api.logger.Error("Failed to flush digest", zap.Error(err))
		resp.InternalError(errors.New("failed to flush digest"))
		return
	}

	resp.Success(gin.H{"notified": count})
}

// scanDeadlines forces an immediate deadline scan
func (api *API) scanDeadlines(c *gin.Context) {
	resp := response.New(c, api.logger)

	events, err := api.service.ScanDeadlines(c.Request.Context())
	if err != nil {
		api.logger.Error("Failed to scan deadlines", zap.Error(err))
		resp.InternalError(errors.New("failed to scan deadlines"))
		return
	}

	resp.Success(gin.H{"escalated": len(events), "events": events})
}

// healthCheck handles the health endpoint
func (api *API) healthCheck(c *gin.Context) {
	resp := response.New(c, api.logger)

	status := api.service.HealthCheck(c.Request.Context())
	if !status.Healthy {
		resp.Custom(http.StatusServiceUnavailable, status)
		return
	}

	resp.Success(status)
}
