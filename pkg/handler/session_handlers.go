package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/service"
)

// SessionHandler serves the editor session API: transcript, branches,
// diagram, canvas callbacks and comparisons.
type SessionHandler struct {
	manager *service.SessionManager
	logger  *slog.Logger
}

func NewSessionHandler(manager *service.SessionManager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, logger: logger}
}

// RegisterRoutes registers session routes
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	{
		sessions.GET("", h.List)
		sessions.POST("", h.Create)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.Delete)
		sessions.POST("/:id/clear", h.Clear)

		// Transcript
		sessions.POST("/:id/messages", h.SubmitMessage)
		sessions.POST("/:id/quick-actions/:actionId", h.RunQuickAction)
		sessions.POST("/:id/calibrate", h.Calibrate)
		sessions.POST("/:id/revert", h.Revert)

		// Branches
		sessions.GET("/:id/branches", h.Branches)
		sessions.POST("/:id/branches", h.Fork)
		sessions.PUT("/:id/branches/active", h.SwitchBranch)

		// Diagram
		sessions.POST("/:id/diagram", h.ApplyDiagram)
		sessions.POST("/:id/templates/:templateId", h.ApplyTemplate)
		sessions.POST("/:id/diagram/repair/dismiss", h.DismissRepair)
		sessions.GET("/:id/versions", h.Versions)
		sessions.POST("/:id/versions", h.SaveVersion)
		sessions.POST("/:id/versions/restore", h.RestoreVersion)

		// Canvas callbacks
		sessions.POST("/:id/canvas/exports/:requestId", h.ResolveExport)
		sessions.POST("/:id/canvas/errors", h.RuntimeError)
		sessions.POST("/:id/canvas/rendered", h.Rendered)

		// Comparisons
		sessions.GET("/:id/comparisons", h.ListComparisons)
		sessions.POST("/:id/comparisons", h.StartComparison)
		sessions.POST("/:id/comparisons/:requestId/dismiss", h.DismissComparison)
		sessions.POST("/:id/comparisons/:requestId/results/:resultId/retry", h.RetryResult)
		sessions.POST("/:id/comparisons/:requestId/results/:resultId/apply", h.ApplyResult)
	}
}

func (h *SessionHandler) session(c *gin.Context) (*service.Session, bool) {
	s, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return s, true
}

// List lists all sessions
// @Summary List sessions
// @Tags sessions
// @Produce json
// @Success 200 {object} models.Response
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	list, err := h.manager.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list sessions", "error", err)
		fail(c, err)
		return
	}
	ok(c, list)
}

// Create creates a new session
// @Summary Create session
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body models.CreateSessionRequest false "Session title"
// @Success 201 {object} models.SessionState
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req models.CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	s := h.manager.Create(req.Title)
	c.JSON(http.StatusCreated, models.Response{Code: http.StatusCreated, Message: "Created", Data: s.State()})
}

// Get returns the full state of a session
// @Summary Get session
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.SessionState
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	ok(c, s.State())
}

func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.manager.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: http.StatusOK, Message: "Deleted"})
}

func (h *SessionHandler) Clear(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	if err := s.Clear(c.Request.Context()); err != nil {
		h.logger.Warn("Failed to reset canvas", "session", s.ID, "error", err)
	}
	ok(c, s.State())
}

// ========== Transcript ==========

// SubmitMessage sends a user message and runs one chat turn
// @Summary Submit message
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body models.SubmitMessageRequest true "Message"
// @Success 200 {object} service.ChatTurn
// @Router /sessions/{id}/messages [post]
func (h *SessionHandler) SubmitMessage(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var req models.SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	turn, err := s.SubmitMessage(c.Request.Context(), service.SubmitInput{
		Text:        req.Text,
		ModelID:     req.ModelID,
		Attachments: req.Attachments,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, turn)
}

func (h *SessionHandler) RunQuickAction(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var req models.RunQuickActionRequest
	_ = c.ShouldBindJSON(&req)
	turn, err := s.RunQuickAction(c.Request.Context(), c.Param("actionId"), req.ModelID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, turn)
}

func (h *SessionHandler) Calibrate(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var req models.CalibrateRequest
	_ = c.ShouldBindJSON(&req)
	turn, err := s.Calibrate(c.Request.Context(), req.ModelID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, turn)
}

// Revert keeps the first message_index messages on a new history branch
// @Summary Revert transcript
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body models.RevertRequest true "Message index"
// @Success 200 {object} models.Branch
// @Router /sessions/{id}/revert [post]
func (h *SessionHandler) Revert(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var req models.RevertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	branch, err := s.Revert(c.Request.Context(), req.MessageIndex)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, branch)
}

// ========== Branches ==========

func (h *SessionHandler) Branches(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	ok(c, s.Branches.Tree())
}

func (h *SessionHandler) Fork(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var req models.ForkBranchRequest
	_ = c.ShouldBindJSON(&req)
	branch, err := s.Fork(req.Label)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.Response{Code: http.StatusCreated, Message: "Created", Data: branch})
}

func (h *SessionHandler) SwitchBranch(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var req models.SwitchBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := s.SwitchBranch(c.Request.Context(), req.BranchID); err != nil {
		fail(c, err)
		return
	}
	ok(c, s.State())
}

// ========== Diagram ==========

// ApplyDiagram commits a user-supplied document, repairing it when needed
// @Summary Apply diagram
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body models.ApplyDiagramRequest true "Diagram XML"
// @Success 200 {object} models.ApplyOutcome
// @Router /sessions/{id}/diagram [post]
func (h *SessionHandler) ApplyDiagram(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var req models.ApplyDiagramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	outcome, err := s.ApplyDiagram(c.Request.Context(), req.XML)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, outcome)
}

func (h *SessionHandler) ApplyTemplate(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	outcome, err := s.ApplyTemplate(c.Request.Context(), c.Param("templateId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, outcome)
}

func (h *SessionHandler) DismissRepair(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	s.Diagram.DismissRepairState()
	ok(c, s.Diagram.RepairState())
}

func (h *SessionHandler) Versions(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	versions, active := s.Canvas.Versions()
	ok(c, gin.H{"versions": versions, "active_index": active})
}

// SaveVersion exports the canvas and records the result as a version
// @Summary Save version
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 201 {object} models.DiagramVersion
// @Router /sessions/{id}/versions [post]
func (h *SessionHandler) SaveVersion(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	v, idx, err := s.RequestExport(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.Response{Code: http.StatusCreated, Message: "Created", Data: gin.H{"version": v, "index": idx}})
}

func (h *SessionHandler) RestoreVersion(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var req models.RestoreVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	outcome, err := s.RestoreVersion(c.Request.Context(), req.Index)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, outcome)
}

// ========== Canvas callbacks ==========

// ResolveExport receives the canvas answer to an export request
// @Summary Resolve export
// @Tags canvas
// @Accept json
// @Param id path string true "Session ID"
// @Param requestId path string true "Export request ID"
// @Param request body models.ExportResult true "Export payload"
// @Router /sessions/{id}/canvas/exports/{requestId} [post]
func (h *SessionHandler) ResolveExport(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var res models.ExportResult
	if err := c.ShouldBindJSON(&res); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.HandleExport(c.Param("requestId"), res); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) RuntimeError(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var rerr models.RuntimeError
	if err := c.ShouldBindJSON(&rerr); err != nil {
		badRequest(c, err)
		return
	}
	outcome, err := s.HandleRuntimeError(c.Request.Context(), rerr)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, outcome)
}

// Rendered settles the pending candidate once the canvas shows it.
func (h *SessionHandler) Rendered(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var ack models.RenderAck
	if err := c.ShouldBindJSON(&ack); err != nil {
		badRequest(c, err)
		return
	}
	ok(c, gin.H{"settled": s.Diagram.AcknowledgeRender(ack.XML)})
}

// ========== Comparisons ==========

func (h *SessionHandler) ListComparisons(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	ok(c, s.Comparisons.History())
}

// StartComparison fans the prompt out to several models in the background
// @Summary Start comparison
// @Tags comparisons
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body models.ComparisonRequest true "Prompt and models"
// @Success 202 {object} models.ComparisonEntry
// @Router /sessions/{id}/comparisons [post]
func (h *SessionHandler) StartComparison(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	var req models.ComparisonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entry, _, err := s.StartComparison(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.Response{Code: http.StatusAccepted, Message: "Accepted", Data: entry})
}

func (h *SessionHandler) DismissComparison(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	if err := s.Comparisons.Dismiss(c.Param("requestId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, s.State())
}

func (h *SessionHandler) RetryResult(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	res, err := s.Comparisons.RetryResult(c.Request.Context(), c.Param("requestId"), c.Param("resultId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, res)
}

func (h *SessionHandler) ApplyResult(c *gin.Context) {
	s, found := h.session(c)
	if !found {
		return
	}
	if _, err := s.Comparisons.ApplyResult(c.Request.Context(), c.Param("requestId"), c.Param("resultId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, s.State())
}
