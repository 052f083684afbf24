// internal/api/websocket_handlers.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Corphon/GamebookRuntime/internal/services"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingPeriod   = 54 * time.Second
)

// clientMessage 是客户端发来的控制消息
type clientMessage struct {
	Type          string `json:"type"`
	Verb          string `json:"verb"`
	Noun          string `json:"noun"`
	PageID        string `json:"page_id"`
	ShowTitlePage *bool  `json:"show_title_page"`
}

// WebSocketHandler 处理会话的 WebSocket 连接
type WebSocketHandler struct {
	sessions *services.SessionService
	manager  *WebSocketManager
	upgrader websocket.Upgrader
	logger   *utils.Logger
}

// NewWebSocketHandler 创建 WebSocket 处理器。allowedOrigins 为空时接受任意来源
func NewWebSocketHandler(sessions *services.SessionService, manager *WebSocketManager, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		manager:  manager,
		logger:   utils.GetLogger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowedOrigins) == 0 || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// SessionWebSocket 订阅会话的渲染指令，并接受控制消息
func (wh *WebSocketHandler) SessionWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	snapshot, err := wh.sessions.Get(sessionID)
	if err != nil {
		NewResponseHelper().FromError(c, "会话不存在", err)
		return
	}

	conn, err := wh.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wh.logger.Warn("websocket upgrade failed", map[string]interface{}{"err": err.Error()})
		return
	}

	client := newWebSocketClient(conn, sessionID, c.DefaultQuery("client_id", uuid.NewString()))
	wh.manager.registerClient(client)
	defer wh.manager.unregisterClient(client)

	go wh.handleWebSocketWrites(client)

	_ = client.SendMessage(map[string]interface{}{
		"type":       MessageConnected,
		"session_id": sessionID,
		"client_id":  client.clientID,
		"session":    snapshot,
		"timestamp":  time.Now().Format(time.RFC3339),
	})

	wh.handleWebSocketReads(c.Request.Context(), client)
}

// handleWebSocketReads 读取并处理客户端消息，直到连接关闭
func (wh *WebSocketHandler) handleWebSocketReads(ctx context.Context, client *WebSocketClient) {
	client.conn.SetReadDeadline(time.Now().Add(readTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for !client.IsClosed() {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wh.logger.Warn("websocket read failed", map[string]interface{}{
					"session": client.sessionID,
					"err":     err.Error(),
				})
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.SendError(ErrorBadRequest, "invalid message: "+err.Error())
			continue
		}
		wh.handleMessage(ctx, client, msg)
	}
}

// handleWebSocketWrites 把发送队列写到连接，并定期发送 ping
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.done:
			return

		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 分发客户端控制消息。成功时指令由会话服务广播，请求方另收到一条结果消息
func (wh *WebSocketHandler) handleMessage(ctx context.Context, client *WebSocketClient, msg clientMessage) {
	var (
		result *services.SessionResult
		err    error
	)

	switch msg.Type {
	case "action":
		result, err = wh.sessions.Act(ctx, client.sessionID, msg.Verb, msg.Noun)
	case "continue":
		result, err = wh.sessions.Continue(ctx, client.sessionID)
	case "next":
		result, err = wh.sessions.Next(ctx, client.sessionID)
	case "restart":
		result, err = wh.sessions.Restart(ctx, client.sessionID, msg.PageID, msg.ShowTitlePage)
	case "ping":
		_ = client.SendMessage(map[string]interface{}{
			"type":      MessagePong,
			"timestamp": time.Now().Unix(),
		})
		return
	default:
		client.SendError(ErrorBadRequest, "unknown message type: "+msg.Type)
		return
	}

	if err != nil {
		_, code := statusForError(err)
		client.SendError(code, err.Error())
		return
	}

	_ = client.SendMessage(map[string]interface{}{
		"type":    MessageResult,
		"request": msg.Type,
		"outcome": result.Outcome,
		"session": result.Session,
	})
}
