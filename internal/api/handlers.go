// internal/api/handlers.go
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/GamebookRuntime/internal/config"
	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/models"
	"github.com/Corphon/GamebookRuntime/internal/services"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

// maxUploadBytes 限制上传故事书的大小
const maxUploadBytes = 32 << 20

// Handler 处理API请求
type Handler struct {
	Sessions  *services.SessionService // 游玩会话
	Library   *services.LibraryService // 故事书库
	WebSocket *WebSocketManager        // 会话推送
	Response  *ResponseHelper          // 响应助手
	Metrics   *utils.MetricsCollector
	started   time.Time
}

// NewHandler 创建API处理器
func NewHandler(sessions *services.SessionService, library *services.LibraryService, ws *WebSocketManager) *Handler {
	return &Handler{
		Sessions:  sessions,
		Library:   library,
		WebSocket: ws,
		Response:  NewResponseHelper(),
		Metrics:   utils.GetMetricsCollector(),
		started:   time.Now(),
	}
}

// importBookRequest 上传故事书：直接给出 book，或给出一个 URL 由服务器下载
type importBookRequest struct {
	Book *models.Book `json:"book"`
	URL  string       `json:"url"`
}

// ========================================
// 故事书
// ========================================

// ImportBook 导入故事书。请求体可以是故事书 JSON 本身，也可以是 {"book": ...} 或 {"url": ...}
func (h *Handler) ImportBook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	if err != nil {
		h.Response.BadRequest(c, "读取请求失败", err.Error())
		return
	}

	var req importBookRequest
	_ = json.Unmarshal(body, &req)

	var id string
	switch {
	case req.Book != nil:
		id, err = h.Library.Import(req.Book)
	case req.URL != "":
		// 关闭 URL 加载时服务器不代为下载
		if config.GetSettings().DisableURLOptions {
			err = apperrors.NewValidationError("import book from URL", apperrors.ErrURLLoadingDisabled)
			break
		}
		id, err = h.Library.ImportFrom(c.Request.Context(), req.URL)
	default:
		id, err = h.Library.ImportJSON(body)
	}
	if err != nil {
		h.Response.FromError(c, "导入故事书失败", err)
		return
	}

	h.Response.Created(c, gin.H{"id": id}, "故事书已导入")
}

// ListBooks 列出书库中的故事书
func (h *Handler) ListBooks(c *gin.Context) {
	books, err := h.Library.List()
	if err != nil {
		h.Response.FromError(c, "读取书库失败", err)
		return
	}
	h.Response.Success(c, books)
}

// GetBook 获取一本故事书
func (h *Handler) GetBook(c *gin.Context) {
	book, err := h.Library.Get(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, "获取故事书失败", err)
		return
	}
	h.Response.Success(c, book)
}

// DeleteBook 删除一本故事书
func (h *Handler) DeleteBook(c *gin.Context) {
	if err := h.Library.Delete(c.Param("id")); err != nil {
		h.Response.FromError(c, "删除故事书失败", err)
		return
	}
	h.Response.Success(c, nil, "故事书已删除")
}

// ========================================
// 游玩会话
// ========================================

// CreateSession 开始一个新会话
func (h *Handler) CreateSession(c *gin.Context) {
	var req services.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	result, err := h.Sessions.Create(c.Request.Context(), req)
	if err != nil {
		h.Response.FromError(c, "创建会话失败", err)
		return
	}
	h.Response.Created(c, result)
}

// ListSessions 列出所有会话
func (h *Handler) ListSessions(c *gin.Context) {
	h.Response.Success(c, h.Sessions.List())
}

// GetSession 获取会话当前状态
func (h *Handler) GetSession(c *gin.Context) {
	snapshot, err := h.Sessions.Get(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, "获取会话失败", err)
		return
	}
	h.Response.Success(c, snapshot)
}

// DeleteSession 结束会话并断开其 WebSocket 连接
func (h *Handler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.Sessions.Delete(c.Request.Context(), id); err != nil {
		h.Response.FromError(c, "结束会话失败", err)
		return
	}
	h.WebSocket.CloseSession(id)
	h.Response.Success(c, nil, "会话已结束")
}

// TriggerAction 对名词执行动词
func (h *Handler) TriggerAction(c *gin.Context) {
	var req struct {
		Verb string `json:"verb" binding:"required"`
		Noun string `json:"noun"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	result, err := h.Sessions.Act(c.Request.Context(), c.Param("id"), req.Verb, req.Noun)
	if err != nil {
		h.Response.FromError(c, "执行动作失败", err)
		return
	}
	h.Response.Success(c, result)
}

// ContinueSession 完成等待确认的翻页
func (h *Handler) ContinueSession(c *gin.Context) {
	result, err := h.Sessions.Continue(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, "继续失败", err)
		return
	}
	h.Response.Success(c, result)
}

// NextPage 图片页翻到下一页
func (h *Handler) NextPage(c *gin.Context) {
	result, err := h.Sessions.Next(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, "翻页失败", err)
		return
	}
	h.Response.Success(c, result)
}

// RestartSession 重新开始，可指定页面
func (h *Handler) RestartSession(c *gin.Context) {
	var req struct {
		PageID        string `json:"page_id"`
		ShowTitlePage *bool  `json:"show_title_page"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	result, err := h.Sessions.Restart(c.Request.Context(), c.Param("id"), req.PageID, req.ShowTitlePage)
	if err != nil {
		h.Response.FromError(c, "重新开始失败", err)
		return
	}
	h.Response.Success(c, result)
}

// GetSessionHistory 获取会话的游玩记录
func (h *Handler) GetSessionHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		h.Response.BadRequest(c, "无效的 limit 参数")
		return
	}

	events, err := h.Sessions.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.Response.FromError(c, "获取游玩记录失败", err)
		return
	}
	h.Response.Success(c, events)
}

// ClearSessionHistory 清空会话的游玩记录
func (h *Handler) ClearSessionHistory(c *gin.Context) {
	if err := h.Sessions.ClearHistory(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.FromError(c, "清空游玩记录失败", err)
		return
	}
	h.Response.Success(c, nil, "游玩记录已清空")
}

// ========================================
// 设置、健康检查与指标
// ========================================

// GetSettings 获取运行时设置
func (h *Handler) GetSettings(c *gin.Context) {
	h.Response.Success(c, config.GetSettings())
}

// SaveSettings 保存运行时设置，日志级别立即生效
func (h *Handler) SaveSettings(c *gin.Context) {
	var settings config.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	switch strings.ToLower(settings.LogLevel) {
	case "":
		settings.LogLevel = config.GetSettings().LogLevel
	case "debug", "info", "warn", "warning", "error":
	default:
		h.Response.Error(c, http.StatusBadRequest, ErrorSettingsInvalid, "未知的日志级别", settings.LogLevel)
		return
	}

	if err := config.UpdateSettings(settings); err != nil {
		h.Response.InternalError(c, "保存设置失败", err.Error())
		return
	}
	utils.GetLogger().SetLogLevel(utils.ParseLogLevel(settings.LogLevel))

	h.Response.Success(c, settings, "设置已保存")
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":          "ok",
		"sessions":        h.Sessions.Count(),
		"uptime_seconds":  int(time.Since(h.started).Seconds()),
		"websocket_conns": h.WebSocket.GetStatus()["total_connections"],
	})
}

// GetMetrics 获取运行指标
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.GetMetrics())
}

// GetWebSocketStatus 获取 WebSocket 连接状态（调试用）
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.Response.Success(c, h.WebSocket.GetStatus())
}
