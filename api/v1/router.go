package v1

import (
	"pgplane/api/v1/api_keys"
	"pgplane/api/v1/audit"
	clustersapi "pgplane/api/v1/clusters"
	"pgplane/api/v1/middleware"
	nodesapi "pgplane/api/v1/nodes"
	"pgplane/api/v1/orgs"
	"pgplane/api/v1/projects"
	"pgplane/internal/auth"
	"pgplane/internal/clusters"
	"pgplane/internal/health"
	"pgplane/internal/httpx"
	"pgplane/internal/nodes"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the shared services the routes are built on
type Deps struct {
	DB           *gorm.DB
	Nodes        *nodes.Service
	Clusters     *clusters.Service
	HealthWorker *health.Worker
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, deps Deps) {
	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		// Protected routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired(deps.DB))
		{
			protected.GET("/me", meHandler)

			// Organizations routes
			orgsHandler := orgs.NewHandler(deps.DB)
			orgsGroup := protected.Group("/orgs")
			{
				orgsGroup.GET("", orgsHandler.List)
				orgsGroup.POST("/create", middleware.RequireRole(auth.RoleAdmin), orgsHandler.Create)
				orgsGroup.POST("/update", middleware.RequireRole(auth.RoleAdmin), orgsHandler.Update)
				orgsGroup.POST("/delete", middleware.RequireRole(auth.RoleOwner), orgsHandler.Delete)
			}

			// Projects routes
			projectsHandler := projects.NewHandler(deps.DB)
			projectsGroup := protected.Group("/projects")
			{
				projectsGroup.GET("", projectsHandler.List)
				projectsGroup.POST("/create", middleware.RequireRole(auth.RoleAdmin), projectsHandler.Create)
				projectsGroup.POST("/update", middleware.RequireRole(auth.RoleAdmin), projectsHandler.Update)
				projectsGroup.POST("/delete", middleware.RequireRole(auth.RoleAdmin), projectsHandler.Delete)
			}

			// Clusters routes
			clustersHandler := clustersapi.NewHandler(deps.Clusters)
			clustersGroup := protected.Group("/clusters")
			{
				clustersGroup.GET("", clustersHandler.List)
				clustersGroup.GET("/:id", clustersHandler.Get)
				clustersGroup.POST("/create", middleware.RequireRole(auth.RoleOperator), clustersHandler.Create)
				clustersGroup.POST("/update", middleware.RequireRole(auth.RoleOperator), clustersHandler.Update)
				clustersGroup.POST("/delete", middleware.RequireRole(auth.RoleAdmin), clustersHandler.Delete)

				// Routing weights
				clustersGroup.GET("/:id/routing/preview", clustersHandler.RoutingPreview)
				clustersGroup.POST("/:id/routing/apply", middleware.RequireRole(auth.RoleOperator), clustersHandler.RoutingApply)
			}

			// Nodes routes
			nodesHandler := nodesapi.NewHandler(deps.Nodes, deps.HealthWorker)
			nodesGroup := protected.Group("/nodes")
			{
				nodesGroup.GET("", nodesHandler.List)
				nodesGroup.GET("/:id", nodesHandler.Get)
				nodesGroup.POST("/create", middleware.RequireRole(auth.RoleOperator), nodesHandler.Create)
				nodesGroup.POST("/update", middleware.RequireRole(auth.RoleOperator), nodesHandler.Update)
				nodesGroup.POST("/delete", middleware.RequireRole(auth.RoleAdmin), nodesHandler.Delete)
				nodesGroup.POST("/test-connection", middleware.RequireRole(auth.RoleOperator), nodesHandler.TestConnection)
				nodesGroup.POST("/:id/check", middleware.RequireRole(auth.RoleOperator), nodesHandler.Check)
			}

			// Audit routes
			auditHandler := audit.NewHandler(deps.DB)
			protected.GET("/audit", middleware.RequireRole(auth.RoleAdmin), auditHandler.List)

			// API keys routes
			apiKeysHandler := api_keys.NewHandler(deps.DB)
			apiKeysGroup := protected.Group("/api-keys")
			apiKeysGroup.Use(middleware.RequireRole(auth.RoleAdmin))
			{
				apiKeysGroup.GET("", apiKeysHandler.List)
				apiKeysGroup.POST("/create", apiKeysHandler.Create)
				apiKeysGroup.POST("/delete", apiKeysHandler.Delete)
			}
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}

// meHandler returns current user information
func meHandler(c *gin.Context) {
	uid, _ := c.Get("uid")
	username, _ := c.Get("username")
	role, _ := c.Get("role")

	httpx.OK(c, gin.H{
		"uid":      uid,
		"username": username,
		"role":     role,
	})
}
