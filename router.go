package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowpilot/flowpilot/pkg/config"
	"github.com/flowpilot/flowpilot/pkg/db"
	"github.com/flowpilot/flowpilot/pkg/event"
	"github.com/flowpilot/flowpilot/pkg/handler"
	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/service"
	"github.com/flowpilot/flowpilot/pkg/tools"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	logger    *slog.Logger
	port      int

	emitter  *event.Emitter
	store    *service.SessionStore
	sessions *service.SessionManager
}

func NewServer(cfg *config.AppConfig) (*Server, error) {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS: the canvas page and the dev server run on localhost origins.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// No Origin header means this is not a browser CORS request.
		if origin != "" {
			if !localOrigin(origin) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	attachStatic(ginEngine, cfg.Server.StaticDir)

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		logger:    utils.GetLogger(),
		emitter:   event.NewEmitter(),
	}

	if err := server.SetupRoutes(); err != nil {
		return nil, err
	}
	return server, nil
}

func localOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Listen first so an occupied port fails immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = s.cfg.Port()
	}
	s.logger.Info("Server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

// Close flushes live sessions and closes the session database.
func (s *Server) Close(ctx context.Context) error {
	err := s.sessions.Close(ctx)
	if s.store != nil {
		if cerr := s.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Server) SetupRoutes() error {
	// Session storage
	if s.cfg.StorageDriver() == config.StorageSQLite {
		database, err := db.Open(s.cfg.StoragePath())
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		s.store = service.NewSessionStore(database)
	}

	// Custom model preferences
	var customModels service.CustomModelStore
	if s.cfg.PreferencesBackend() == config.PreferencesRedis {
		customModels = service.NewRedisCustomModelStoreFromAddr(s.cfg.Preferences.RedisAddr, s.cfg.RedisKey())
	} else {
		customModels = service.NewFileCustomModelStore("")
	}

	quickActions, err := service.NewQuickActionService("")
	if err != nil {
		return fmt.Errorf("load quick actions: %w", err)
	}
	templates, err := service.NewTemplateService("")
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	modelService := service.NewModelService("", s.cfg.DefaultModel())
	generator := service.NewEinoGeneratorFromModels(modelService)
	comparer := service.NewCompareService(generator)
	registry := tools.NewRegistry()

	s.sessions = service.NewSessionManager(service.SessionDeps{
		Generator:     generator,
		Comparer:      comparer,
		Tools:         registry,
		QuickActions:  quickActions,
		Templates:     templates,
		Emitter:       s.emitter,
		ExportTimeout: s.cfg.ExportTimeout(),
	}, s.store)

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	// Runtime info for the browser to discover base URLs
	apiGroup.GET("/runtime", func(c *gin.Context) {
		host := s.cfg.Host()
		port := s.port
		if port == 0 {
			port = s.cfg.Port()
		}
		c.JSON(http.StatusOK, models.RuntimeInfo{
			HTTPBaseURL: fmt.Sprintf("http://%s:%d", host, port),
			WSBaseURL:   fmt.Sprintf("ws://%s:%d", host, port),
			Port:        port,
			Storage:     s.cfg.StorageDriver(),
		})
	})

	// Event stream (canvas commands and state notifications)
	// /api/events/ws
	apiGroup.GET("/events/ws", event.NewWSHandler(s.emitter).Handle)

	// Model management API routes
	// /api/models
	apiGroup.GET("/models", modelService.GetModelList)
	apiGroup.POST("/models", modelService.AddModel)
	apiGroup.PUT("/models/:id", modelService.EditModel)
	apiGroup.DELETE("/models/:id", modelService.DeleteModel)
	apiGroup.POST("/models/test", modelService.TestModelConnection)

	handler.NewCompareHandler(comparer, s.cfg.RatePerMinute(), s.cfg.Burst(), s.logger).RegisterRoutes(apiGroup)
	handler.NewSessionHandler(s.sessions, s.logger).RegisterRoutes(apiGroup)
	handler.NewQuickActionHandler(quickActions, s.logger).RegisterRoutes(apiGroup)
	handler.NewTemplateHandler(templates).RegisterRoutes(apiGroup)
	handler.NewCustomModelHandler(customModels, s.logger).RegisterRoutes(apiGroup)
	handler.NewToolHandler(tools.NewBuiltinToolsService(registry)).RegisterRoutes(apiGroup)

	return nil
}
