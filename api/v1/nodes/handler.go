package nodes

import (
	"strconv"

	"pgplane/api/v1/middleware"
	"pgplane/internal/dto"
	"pgplane/internal/health"
	"pgplane/internal/httpx"
	"pgplane/internal/nodes"
	"pgplane/internal/ws"

	"github.com/gin-gonic/gin"
)

// ListRequest represents list nodes request
type ListRequest struct {
	ClusterID int `form:"clusterId" binding:"required"`
}

// ListResponse represents list nodes response
type ListResponse struct {
	Items []dto.NodeDTO `json:"items"`
	Total int           `json:"total"`
}

// CreateRequest represents register node request
type CreateRequest struct {
	ClusterID        int    `json:"clusterId" binding:"required"`
	Name             string `json:"name" binding:"required"`
	Role             string `json:"role"`
	ConnectionString string `json:"connectionString"`
	SSLMode          string `json:"sslMode"`
	Priority         *int   `json:"priority"`
	TestConnection   *bool  `json:"testConnection"`
}

// UpdateRequest represents reconcile node request. Absent fields are
// left untouched.
type UpdateRequest struct {
	ID                 int     `json:"id" binding:"required"`
	Name               *string `json:"name"`
	Role               *string `json:"role"`
	Status             *string `json:"status"`
	ConnectionString   *string `json:"connectionString"`
	SSLMode            *string `json:"sslMode"`
	ReplicationEnabled *bool   `json:"replicationEnabled"`
	SyncEnabled        *bool   `json:"syncEnabled"`
	SyncStatus         *string `json:"syncStatus"`
	Priority           *int    `json:"priority"`
	RoutingWeight      *int    `json:"routingWeight"`
	TestConnection     *bool   `json:"testConnection"`
}

// DeleteRequest represents delete node request
type DeleteRequest struct {
	ID             int  `json:"id" binding:"required"`
	ConfirmPrimary bool `json:"confirmPrimary"`
}

// TestConnectionRequest represents ad-hoc connection test request
type TestConnectionRequest struct {
	ConnectionString string `json:"connectionString" binding:"required"`
	SSLMode          string `json:"sslMode"`
}

// Handler handles nodes API
type Handler struct {
	svc    *nodes.Service
	worker *health.Worker
}

// NewHandler creates a new nodes handler
func NewHandler(svc *nodes.Service, worker *health.Worker) *Handler {
	return &Handler{
		svc:    svc,
		worker: worker,
	}
}

// List handles GET /api/v1/nodes
func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing("clusterId is required"))
		return
	}

	items, appErr := h.svc.ListByCluster(req.ClusterID)
	if appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	dtos := make([]dto.NodeDTO, len(items))
	for i := range items {
		dtos[i] = dto.NewNodeDTO(&items[i])
	}

	httpx.OK(c, ListResponse{
		Items: dtos,
		Total: len(dtos),
	})
}

// Get handles GET /api/v1/nodes/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid node id"))
		return
	}

	node, appErr := h.svc.Get(id)
	if appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	httpx.OK(c, dto.NewNodeDTO(node))
}

// Create handles POST /api/v1/nodes/create
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	node, appErr := h.svc.Create(c.Request.Context(), middleware.Actor(c), nodes.CreateParams{
		ClusterID:        req.ClusterID,
		Name:             req.Name,
		Role:             req.Role,
		ConnectionString: req.ConnectionString,
		SSLMode:          req.SSLMode,
		Priority:         req.Priority,
		TestConnection:   req.TestConnection,
	})
	if appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	ws.Publish(ws.TopicNodes, "create", node)

	httpx.OK(c, node)
}

// Update handles POST /api/v1/nodes/update. Role changes to PRIMARY
// demote the cluster's previous primary in the same transaction; the
// response lists any demoted node names.
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	result, appErr := h.svc.Reconcile(c.Request.Context(), middleware.Actor(c), req.ID, nodes.ReconcileParams{
		Name:               req.Name,
		Role:               req.Role,
		Status:             req.Status,
		ConnectionString:   req.ConnectionString,
		SSLMode:            req.SSLMode,
		ReplicationEnabled: req.ReplicationEnabled,
		SyncEnabled:        req.SyncEnabled,
		SyncStatus:         req.SyncStatus,
		Priority:           req.Priority,
		RoutingWeight:      req.RoutingWeight,
		TestConnection:     req.TestConnection,
	})
	if appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	eventType := "update"
	if len(result.DemotedNodes) > 0 || (req.Role != nil && *req.Role == "PRIMARY") {
		eventType = "promote"
	}
	ws.Publish(ws.TopicNodes, eventType, result)

	httpx.OK(c, result)
}

// Delete handles POST /api/v1/nodes/delete. Deleting a PRIMARY requires
// confirmPrimary.
func (h *Handler) Delete(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	if appErr := h.svc.Remove(c.Request.Context(), middleware.Actor(c), req.ID, req.ConfirmPrimary); appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	ws.Publish(ws.TopicNodes, "delete", gin.H{"id": req.ID})

	httpx.OK(c, gin.H{"id": req.ID})
}

// TestConnection handles POST /api/v1/nodes/test-connection. The probe
// outcome is the response data; an unreachable server is a result, not
// an API error.
func (h *Handler) TestConnection(c *gin.Context) {
	var req TestConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	result, appErr := h.svc.TestConnection(c.Request.Context(), middleware.Actor(c), req.ConnectionString, req.SSLMode)
	if appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	httpx.OK(c, result)
}

// Check handles POST /api/v1/nodes/:id/check — an immediate health
// check outside the periodic sweep.
func (h *Handler) Check(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid node id"))
		return
	}

	results := h.worker.CheckNodes(middleware.Actor(c), []int{id})
	if len(results) == 0 {
		httpx.FailErr(c, httpx.ErrNotFound("node not found"))
		return
	}

	if node, appErr := h.svc.Get(id); appErr == nil {
		ws.Publish(ws.TopicNodes, "update", dto.NewNodeDTO(node))
	}

	httpx.OK(c, results[0])
}
