package clusters

import (
	"strconv"

	"pgplane/api/v1/middleware"
	"pgplane/internal/clusters"
	"pgplane/internal/httpx"
	"pgplane/internal/ws"

	"github.com/gin-gonic/gin"
)

// ListRequest represents list clusters request
type ListRequest struct {
	ProjectID int `form:"projectId"`
}

// NodeSpecRequest describes one node in a provisioning request
type NodeSpecRequest struct {
	Name             string `json:"name" binding:"required"`
	Role             string `json:"role"`
	ConnectionString string `json:"connectionString"`
	SSLMode          string `json:"sslMode"`
	Priority         *int   `json:"priority"`
}

// CreateRequest represents provision cluster request
type CreateRequest struct {
	ProjectID       int               `json:"projectId" binding:"required"`
	Name            string            `json:"name" binding:"required"`
	Topology        string            `json:"topology"`
	ReplicationMode string            `json:"replicationMode"`
	PoolingMode     string            `json:"poolingMode"`
	DefaultPoolSize *int              `json:"defaultPoolSize"`
	MaxClientConn   *int              `json:"maxClientConn"`
	Nodes           []NodeSpecRequest `json:"nodes"`
}

// UpdateRequest represents update cluster request
type UpdateRequest struct {
	ID              int     `json:"id" binding:"required"`
	Name            *string `json:"name"`
	PoolingMode     *string `json:"poolingMode"`
	DefaultPoolSize *int    `json:"defaultPoolSize"`
	MaxClientConn   *int    `json:"maxClientConn"`
}

// DeleteRequest represents delete cluster request
type DeleteRequest struct {
	ID    int  `json:"id" binding:"required"`
	Force bool `json:"force"`
}

// RoutingApplyRequest represents apply routing weights request
type RoutingApplyRequest struct {
	PrimaryReadShare *int `json:"primaryReadShare"`
}

// Handler handles clusters API
type Handler struct {
	svc *clusters.Service
}

// NewHandler creates a new clusters handler
func NewHandler(svc *clusters.Service) *Handler {
	return &Handler{svc: svc}
}

func clusterID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid cluster id"))
		return 0, false
	}
	return id, true
}

// List handles GET /api/v1/clusters
func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	items, appErr := h.svc.List(req.ProjectID)
	if appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	httpx.OK(c, gin.H{
		"items": items,
		"total": len(items),
	})
}

// Get handles GET /api/v1/clusters/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := clusterID(c)
	if !ok {
		return
	}

	detail, appErr := h.svc.GetDetail(id)
	if appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	httpx.OK(c, detail)
}

// Create handles POST /api/v1/clusters/create
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	specs := make([]clusters.NodeSpec, len(req.Nodes))
	for i, n := range req.Nodes {
		specs[i] = clusters.NodeSpec{
			Name:             n.Name,
			Role:             n.Role,
			ConnectionString: n.ConnectionString,
			SSLMode:          n.SSLMode,
			Priority:         n.Priority,
		}
	}

	detail, appErr := h.svc.Provision(c.Request.Context(), middleware.Actor(c), clusters.ProvisionParams{
		ProjectID:       req.ProjectID,
		Name:            req.Name,
		Topology:        req.Topology,
		ReplicationMode: req.ReplicationMode,
		PoolingMode:     req.PoolingMode,
		DefaultPoolSize: req.DefaultPoolSize,
		MaxClientConn:   req.MaxClientConn,
		Nodes:           specs,
	})
	if appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	ws.Publish(ws.TopicClusters, "create", detail)

	httpx.OK(c, detail)
}

// Update handles POST /api/v1/clusters/update
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	cluster, appErr := h.svc.Update(c.Request.Context(), middleware.Actor(c), req.ID, clusters.UpdateParams{
		Name:            req.Name,
		PoolingMode:     req.PoolingMode,
		DefaultPoolSize: req.DefaultPoolSize,
		MaxClientConn:   req.MaxClientConn,
	})
	if appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	ws.Publish(ws.TopicClusters, "update", cluster)

	httpx.OK(c, cluster)
}

// Delete handles POST /api/v1/clusters/delete
func (h *Handler) Delete(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	if appErr := h.svc.Delete(c.Request.Context(), middleware.Actor(c), req.ID, req.Force); appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	ws.Publish(ws.TopicClusters, "delete", gin.H{"id": req.ID})

	httpx.OK(c, gin.H{"id": req.ID})
}

// RoutingPreview handles GET /api/v1/clusters/:id/routing/preview
func (h *Handler) RoutingPreview(c *gin.Context) {
	id, ok := clusterID(c)
	if !ok {
		return
	}

	var share *int
	if raw := c.Query("primaryReadShare"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid primaryReadShare"))
			return
		}
		share = &v
	}

	assignments, appErr := h.svc.RoutingPreview(id, share)
	if appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	httpx.OK(c, gin.H{"assignments": assignments})
}

// RoutingApply handles POST /api/v1/clusters/:id/routing/apply
func (h *Handler) RoutingApply(c *gin.Context) {
	id, ok := clusterID(c)
	if !ok {
		return
	}

	// The body is optional; an empty body applies the default policy
	var req RoutingApplyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
			return
		}
	}

	assignments, appErr := h.svc.RoutingApply(c.Request.Context(), middleware.Actor(c), id, req.PrimaryReadShare)
	if appErr != nil {
		httpx.FailErr(c, appErr)
		return
	}

	ws.Publish(ws.TopicClusters, "update", gin.H{
		"id":          id,
		"assignments": assignments,
	})

	httpx.OK(c, gin.H{"assignments": assignments})
}
