// internal/api/websocket.go
package api

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/GamebookRuntime/internal/engine"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

// 推送给客户端的消息类型
const (
	MessageConnected    = "connected"
	MessageInstructions = "instructions"
	MessageResult       = "result"
	MessageError        = "error"
	MessagePong         = "pong"
)

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

var _ WebSocketConnection = (*websocket.Conn)(nil)

// WebSocketClient 表示一个订阅某个会话的 WebSocket 连接
type WebSocketClient struct {
	conn      WebSocketConnection
	sessionID string
	clientID  string
	send      chan []byte
	done      chan struct{}
	closed    int32 // 0=开启，1=关闭
	lastPing  atomic.Int64
	createdAt time.Time
}

func newWebSocketClient(conn WebSocketConnection, sessionID, clientID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		clientID:  clientID,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// enqueue 非阻塞地把消息放入发送队列，队列满时丢弃
func (client *WebSocketClient) enqueue(msg []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// SendMessage 序列化并发送消息到客户端
func (client *WebSocketClient) SendMessage(message map[string]interface{}) error {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	client.enqueue(msgBytes)
	return nil
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(code, errorMsg string) {
	_ = client.SendMessage(map[string]interface{}{
		"type":      MessageError,
		"code":      code,
		"error":     errorMsg,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// WebSocketManager 管理所有会话的 WebSocket 连接，并把渲染指令推送给订阅者
type WebSocketManager struct {
	connections map[string]map[WebSocketConnection]*WebSocketClient // sessionID -> connections
	mutex       sync.RWMutex
	pingTimeout time.Duration
	logger      *utils.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketManager 创建管理器并启动过期连接清理
func NewWebSocketManager() *WebSocketManager {
	manager := &WebSocketManager{
		connections: make(map[string]map[WebSocketConnection]*WebSocketClient),
		pingTimeout: 60 * time.Second,
		logger:      utils.GetLogger(),
		done:        make(chan struct{}),
	}
	go manager.run()
	return manager
}

func (manager *WebSocketManager) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			manager.cleanupExpiredConnections()
		case <-manager.done:
			manager.shutdown()
			return
		}
	}
}

// Shutdown closes every connection and stops the manager.
func (manager *WebSocketManager) Shutdown() {
	manager.closeOnce.Do(func() { close(manager.done) })
}

func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[WebSocketConnection]*WebSocketClient)
	}
	manager.connections[client.sessionID][client.conn] = client

	manager.logger.Info("websocket client connected", map[string]interface{}{
		"session": client.sessionID,
		"client":  client.clientID,
	})
}

func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	manager.mutex.Lock()
	if connections, exists := manager.connections[client.sessionID]; exists {
		delete(connections, client.conn)
		if len(connections) == 0 {
			delete(manager.connections, client.sessionID)
		}
	}
	manager.mutex.Unlock()

	client.Close()
	manager.logger.Info("websocket client disconnected", map[string]interface{}{
		"session": client.sessionID,
		"client":  client.clientID,
	})
}

// cleanupExpiredConnections 清理过期和已关闭的连接
func (manager *WebSocketManager) cleanupExpiredConnections() int {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	removed := 0
	for sessionID, connections := range manager.connections {
		for conn, client := range connections {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				delete(connections, conn)
				client.Close()
				removed++
			}
		}
		if len(connections) == 0 {
			delete(manager.connections, sessionID)
		}
	}
	return removed
}

// CloseSession disconnects every client of a session.
func (manager *WebSocketManager) CloseSession(sessionID string) {
	manager.mutex.Lock()
	connections := manager.connections[sessionID]
	delete(manager.connections, sessionID)
	manager.mutex.Unlock()

	for _, client := range connections {
		client.Close()
	}
}

func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, connections := range manager.connections {
		for _, client := range connections {
			client.Close()
		}
	}
	manager.connections = make(map[string]map[WebSocketConnection]*WebSocketClient)
	manager.logger.Info("websocket manager stopped", nil)
}

// Publish pushes a batch of renderer instructions to the session's clients.
func (manager *WebSocketManager) Publish(sessionID string, instructions []engine.Instruction) {
	manager.BroadcastToSession(sessionID, map[string]interface{}{
		"type":         MessageInstructions,
		"session_id":   sessionID,
		"instructions": instructions,
		"timestamp":    time.Now().Format(time.RFC3339),
	})
}

// BroadcastToSession 向指定会话的所有连接广播消息
func (manager *WebSocketManager) BroadcastToSession(sessionID string, message map[string]interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		manager.logger.Error("failed to encode websocket message", map[string]interface{}{"err": err.Error()})
		return
	}

	manager.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(manager.connections[sessionID]))
	for _, client := range manager.connections[sessionID] {
		clients = append(clients, client)
	}
	manager.mutex.RUnlock()

	for _, client := range clients {
		if !client.enqueue(msgBytes) && !client.IsClosed() {
			// 队列已满的慢客户端直接断开
			manager.logger.Warn("websocket send queue full, closing client", map[string]interface{}{
				"session": sessionID,
				"client":  client.clientID,
			})
			client.Close()
		}
	}
}

// ClientCount returns the number of open connections of a session.
func (manager *WebSocketManager) ClientCount(sessionID string) int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return len(manager.connections[sessionID])
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	sessions := make(map[string]interface{})
	total := 0
	for sessionID, connections := range manager.connections {
		clients := make([]map[string]interface{}, 0, len(connections))
		for _, client := range connections {
			if client.IsClosed() {
				continue
			}
			clients = append(clients, map[string]interface{}{
				"client_id":    client.clientID,
				"connected_at": client.createdAt.Format(time.RFC3339),
				"last_ping":    time.Unix(0, client.lastPing.Load()).Format(time.RFC3339),
			})
		}
		sessions[sessionID] = map[string]interface{}{
			"client_count": len(clients),
			"clients":      clients,
		}
		total += len(clients)
	}

	return map[string]interface{}{
		"total_sessions":       len(manager.connections),
		"total_connections":    total,
		"sessions":             sessions,
		"ping_timeout_seconds": int(manager.pingTimeout.Seconds()),
	}
}
