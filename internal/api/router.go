// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/GamebookRuntime/internal/config"
	"github.com/Corphon/GamebookRuntime/internal/di"
	"github.com/Corphon/GamebookRuntime/internal/services"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

// Router bundles the gin engine with the long lived parts it owns.
type Router struct {
	*gin.Engine
	WebSocket   *WebSocketManager
	RateLimiter *RateLimiter
}

// SetupRouter 配置HTTP路由，服务从依赖注入容器获取
func SetupRouter(cfg *config.Config) (*Router, error) {
	container := di.GetContainer()

	sessions, err := di.Resolve[*services.SessionService](container, di.SessionService)
	if err != nil {
		return nil, fmt.Errorf("会话服务未正确初始化: %w", err)
	}
	library, err := di.Resolve[*services.LibraryService](container, di.LibraryService)
	if err != nil {
		return nil, fmt.Errorf("书库服务未正确初始化: %w", err)
	}

	return NewRouter(cfg, sessions, library), nil
}

// NewRouter builds the router around the given services.
func NewRouter(cfg *config.Config, sessions *services.SessionService, library *services.LibraryService) *Router {
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	ws := NewWebSocketManager()
	sessions.SetPublisher(ws)

	handler := NewHandler(sessions, library, ws)
	wsHandler := NewWebSocketHandler(sessions, ws, cfg.AllowedOrigins)
	limiter := NewRateLimiter()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(metricsMiddleware(utils.GetMetricsCollector(), utils.GetLogger()))
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	// WebSocket 支持
	r.GET("/ws/sessions/:id", wsHandler.SessionWebSocket)

	api := r.Group("/api")
	api.Use(RateLimitByIP(limiter, 300, time.Minute))
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws/status", handler.GetWebSocketStatus)

		// ===============================
		// 设置相关路由
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.PUT("", handler.SaveSettings)
		}

		// ===============================
		// 故事书库
		// ===============================
		booksGroup := api.Group("/books")
		{
			booksGroup.GET("", handler.ListBooks)
			booksGroup.POST("", handler.ImportBook)
			booksGroup.GET("/:id", handler.GetBook)
			booksGroup.DELETE("/:id", handler.DeleteBook)
		}

		// ===============================
		// 游玩会话
		// ===============================
		sessionsGroup := api.Group("/sessions")
		{
			sessionsGroup.GET("", handler.ListSessions)
			sessionsGroup.POST("", handler.CreateSession)
			sessionsGroup.GET("/:id", handler.GetSession)
			sessionsGroup.DELETE("/:id", handler.DeleteSession)
			sessionsGroup.POST("/:id/actions", handler.TriggerAction)
			sessionsGroup.POST("/:id/continue", handler.ContinueSession)
			sessionsGroup.POST("/:id/next", handler.NextPage)
			sessionsGroup.POST("/:id/restart", handler.RestartSession)
			sessionsGroup.GET("/:id/history", handler.GetSessionHistory)
			sessionsGroup.DELETE("/:id/history", handler.ClearSessionHistory)
		}
	}

	return &Router{Engine: r, WebSocket: ws, RateLimiter: limiter}
}
