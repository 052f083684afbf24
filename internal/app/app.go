// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/GamebookRuntime/internal/config"
	"github.com/Corphon/GamebookRuntime/internal/di"
	"github.com/Corphon/GamebookRuntime/internal/services"
	"github.com/Corphon/GamebookRuntime/internal/storage"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 持有服务器进程的全部运行时状态
type App struct {
	config   *config.Config
	server   server
	router   http.Handler
	stopChan chan os.Signal

	// 后台任务（缓存清理、会话清理、指标报告）的取消函数
	cancel context.CancelFunc
}

var (
	instance   *App
	instanceMu sync.Mutex
)

// GetApp 返回全局应用实例
func GetApp() *App {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		instance = &App{stopChan: make(chan os.Signal, 1)}
	}
	return instance
}

// Init loads the runtime settings, opens the log file and builds the services.
func Init(cfg *config.Config) error {
	a := GetApp()
	a.config = cfg

	if err := initLogger(cfg.LogDir, cfg.LogLevel); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}
	if err := config.InitSettings(cfg); err != nil {
		return fmt.Errorf("初始化运行时设置失败: %w", err)
	}
	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}
	return nil
}

func initLogger(logDir, level string) error {
	logFile := filepath.Join(logDir, fmt.Sprintf("gamebook_%s.log", time.Now().Format("2006-01-02")))
	if err := utils.InitLogger(logFile); err != nil {
		return err
	}
	utils.GetLogger().SetLogLevel(utils.ParseLogLevel(level))
	return nil
}

// InitServices 按依赖顺序创建服务并注册到容器
func InitServices() error {
	cfg := GetApp().config
	if cfg == nil {
		return errors.New("配置未加载")
	}
	container := di.GetContainer()

	files, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("创建文件存储失败: %w", err)
	}
	container.Register(di.FileStorage, files)

	library := storage.NewBookLibrary(files)
	container.Register(di.BookLibrary, library)

	var history *storage.HistoryStore
	if cfg.HistoryDB != "" {
		history, err = storage.OpenHistory(cfg.HistoryDB)
		if err != nil {
			return fmt.Errorf("打开游玩记录数据库失败: %w", err)
		}
		container.Register(di.HistoryStore, history)
	}

	locks := services.NewLockManager()
	container.Register(di.LockManager, locks)

	container.Register(di.LibraryService, services.NewLibraryService(library))
	container.Register(di.SessionService, services.NewSessionService(library, history, locks, services.SessionOptions{
		BaseURL:      cfg.BaseURL,
		FetchTimeout: cfg.FetchTimeout,
		SessionTTL:   cfg.SessionTTL,
	}))

	utils.GetLogger().Info("services initialized", map[string]interface{}{
		"services": container.GetNames(),
	})
	return nil
}

// SetRouter installs the HTTP handler served by Run.
func (a *App) SetRouter(router http.Handler) {
	a.router = router
	a.server = &http.Server{
		Addr:              ":" + a.config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run 启动后台任务和 HTTP 服务器，收到停止信号后优雅关闭
func Run() error {
	a := GetApp()
	if a.server == nil {
		return errors.New("路由未设置")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.startBackground(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.stopChan)

	var serveErr error
	select {
	case <-a.stopChan:
		utils.GetLogger().Info("shutting down", nil)
	case serveErr = <-errChan:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("服务器强制关闭: %w", err)
	}

	a.cleanup()
	return serveErr
}

func (a *App) startBackground(ctx context.Context) {
	container := di.GetContainer()
	logger := utils.GetLogger()

	if files, err := di.Resolve[*storage.FileStorage](container, di.FileStorage); err == nil {
		files.StartCacheCleanup(ctx, 10*time.Minute)
	}
	if locks, err := di.Resolve[*services.LockManager](container, di.LockManager); err == nil {
		locks.StartCleanup(ctx, 10*time.Minute)
	}
	if sessions, err := di.Resolve[*services.SessionService](container, di.SessionService); err == nil {
		sessions.StartCleanup(ctx, time.Minute)
	}
	if a.config != nil && a.config.MetricsInterval > 0 {
		utils.GetMetricsCollector().StartMetricsReport(ctx, logger, a.config.MetricsInterval)
	}
}

// cleanup 停止后台任务并关闭持有的资源
func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}

	if history, err := di.Resolve[*storage.HistoryStore](di.GetContainer(), di.HistoryStore); err == nil {
		if err := history.Close(); err != nil {
			utils.GetLogger().Warn("failed to close history store", map[string]interface{}{"err": err.Error()})
		}
	}
}

// GetConfig 返回应用配置
func (a *App) GetConfig() *config.Config {
	return a.config
}

// IsDebugMode 是否处于调试模式
func (a *App) IsDebugMode() bool {
	return a.config != nil && a.config.DebugMode
}

// GetDIContainer 返回全局依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}
