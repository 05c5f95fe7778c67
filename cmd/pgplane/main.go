package main

import (
	"log"
	"os"
	"time"

	v1 "pgplane/api/v1"
	"pgplane/internal/auth"
	"pgplane/internal/cache"
	"pgplane/internal/clusters"
	"pgplane/internal/config"
	"pgplane/internal/conncheck"
	"pgplane/internal/db"
	"pgplane/internal/health"
	"pgplane/internal/nodes"
	"pgplane/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
		os.Exit(1)
	}
	log.Println("✓ Configuration loaded")

	// 2. Initialize the metadata store
	if err := db.Init(cfg.DB.Driver, cfg.DB.DSN); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Println("✓ Database connected")

	if cfg.Migrate {
		if err := db.Migrate(db.GetDB()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
			os.Exit(1)
		}
		log.Println("✓ Migrations applied")
	}

	// 3. Initialize Redis when configured. Without it, reconcile locks
	// fall back to in-process mutexes (single-instance deployments).
	var locker cache.Locker = cache.NewLocalLocker()
	if cfg.Redis.Enabled {
		if err := cache.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			log.Fatalf("Failed to initialize Redis: %v", err)
			os.Exit(1)
		}
		defer cache.Close()
		locker = cache.NewRedisLocker(cache.Client)
		log.Println("✓ Redis connected")
	}

	// 4. JWT validation (tokens are minted by the identity provider)
	auth.InitJWT(cfg.JWT.Secret)

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	rootLog := logrus.NewEntry(logger)

	checker := conncheck.New(time.Duration(cfg.ConnCheck.TimeoutSec) * time.Second)
	nodeService := nodes.NewService(db.GetDB(), checker, locker, rootLog)
	clusterService := clusters.NewService(db.GetDB(), locker, rootLog)

	// 5. Initialize Socket.IO server
	if err := ws.InitServer(); err != nil {
		log.Fatalf("Failed to initialize WebSocket server: %v", err)
		os.Exit(1)
	}
	log.Println("✓ WebSocket server started")

	// 6. Node health worker. Built unconditionally: the manual check
	// endpoint uses it even when the periodic sweep is disabled.
	worker := health.NewWorker(&health.Config{
		DB:                   db.GetDB(),
		Checker:              checker,
		Logger:               rootLog,
		IntervalSec:          cfg.HealthWorker.IntervalSec,
		TimeoutSec:           cfg.HealthWorker.TimeoutSec,
		OfflineFailThreshold: cfg.HealthWorker.OfflineFailThreshold,
		Concurrency:          cfg.HealthWorker.Concurrency,
	})
	if cfg.HealthWorker.Enabled {
		worker.Start()
		defer worker.Stop()
		log.Println("✓ Health worker started")
	}

	// 7. Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	// Socket.IO endpoint with JWT handshake
	wsHandler := ws.WrapWithAuth(ws.Server)
	r.GET("/socket.io/*any", gin.WrapH(wsHandler))
	r.POST("/socket.io/*any", gin.WrapH(wsHandler))

	// Setup API v1 routes
	v1.SetupRouter(r, v1.Deps{
		DB:           db.GetDB(),
		Nodes:        nodeService,
		Clusters:     clusterService,
		HealthWorker: worker,
	})

	log.Printf("✓ Server starting on %s", cfg.HTTPAddr)

	// Start server
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
