// cmd/server/main.go
package main

import (
	"context"
	"log"
	"time"

	"github.com/Corphon/GamebookRuntime/internal/api"
	"github.com/Corphon/GamebookRuntime/internal/app"
	"github.com/Corphon/GamebookRuntime/internal/config"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

func main() {
	log.Println("starting gamebook server...")

	// 1. 加载基础配置（.env + 环境变量）
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 2. 日志、运行时设置和服务
	if err := app.Init(cfg); err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	logger := utils.GetLogger()

	// 3. 路由（只从容器获取服务，不创建）
	router, err := api.SetupRouter(cfg)
	if err != nil {
		log.Fatalf("设置路由失败: %v", err)
	}
	defer router.WebSocket.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	router.RateLimiter.StartCleanup(ctx, time.Hour)

	a := app.GetApp()
	a.SetRouter(router)

	logger.Info("server listening", map[string]interface{}{
		"port":     cfg.Port,
		"data_dir": cfg.DataDir,
		"debug":    a.IsDebugMode(),
	})

	// 4. 运行直到收到 SIGINT/SIGTERM
	if err := app.Run(); err != nil {
		logger.Error("server stopped with error", map[string]interface{}{"err": err.Error()})
		return
	}
	logger.Info("server stopped", nil)
}
