package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把一條傳輸層連接，安全地翻譯成對單一房間的權威操作？
//
// 核心挑戰：
//   1. 連接綁定：一條連接終身只屬於一個 (房間, 玩家) 配對
//   2. 同步協議：每次成功操作後，房間內所有視圖必須一致
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 故障隔離：單條消息的處理失敗絕不能拖垮整個進程
//
// 設計方案：
//   ✅ Hub 模式 - 集中管理所有房間的所有連接
//   ✅ 同步流程 - 收到消息 → 房間操作 → 成功即廣播最新快照
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 異步發送（不阻塞房間操作）

// 協議層錯誤碼
//
// 直接回覆中的 code 欄位，客戶端依此分類處理；
// message 欄位是給人看的英文描述。
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeNotFound     = "NOT_FOUND"
	CodeRoomFull     = "ROOM_FULL"
	CodeNotAMember   = "NOT_A_MEMBER"
	CodeNotStarted   = "NOT_STARTED"
	CodeWrongTurn    = "WRONG_TURN"
	CodeCellOccupied = "CELL_OCCUPIED"
)

// 心跳與寫入的時間配置
//
// 54 秒 Ping 配 60 秒讀超時：避開常見代理的 60 秒閾值，
// 留 6 秒余量給網絡傳輸與處理。
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// 客戶端消息很小（事件名 + 幾個欄位），超過即視為異常
	maxMessageSize = 4096
)

// clientMessage 入站消息信封
//
// seq 是客戶端自訂的關聯序號：需要直接回覆的事件
//（create-room / join-room / make-move）會在回覆中原樣帶回，
// 取代 socket.io 的 callback 機制。
type clientMessage struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// serverMessage 出站消息信封
type serverMessage struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"`
	Data any    `json:"data,omitempty"`
}

// resultData 直接回覆的負載
type resultData struct {
	Success   bool       `json:"success"`
	RoomID    string     `json:"roomId,omitempty"`
	Symbol    Symbol     `json:"symbol,omitempty"`
	GameState *GameState `json:"gameState,omitempty"`
	Code      string     `json:"code,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type joinRoomData struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type readyData struct {
	Ready bool `json:"ready"`
}

type moveData struct {
	// 指標用於區分「缺欄位」與「index 為 0」
	Index *int `json:"index"`
}

// Hub WebSocket 連接中心
//
// 連接映射：map[roomCode]map[playerID]*Connection
//   - 兩層 map：快速定位房間與玩家
//   - 房間級廣播只遍歷該房間的連接
//
// 併發安全：RWMutex（廣播頻繁走讀鎖，綁定 / 解綁走寫鎖）。
// 房間操作本身由各 Room 的鎖線性化，Hub 的鎖只保護連接映射。
type Hub struct {
	manager  *Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader

	connections map[string]map[string]*Connection // roomCode -> playerID -> Connection
	mu          sync.RWMutex
}

// Connection 一條 WebSocket 連接
//
// ID 是服務器生成的 uuid，僅用於日誌關聯；
// 綁定欄位在 join-room 成功時設置一次，此後不變。
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	mu        sync.Mutex
	roomCode  string
	playerID  string
	closeOnce sync.Once
}

// NewHub 創建連接中心
//
// allowedOrigins 為空時允許任何來源（開發模式）；
// 非空時 Origin 必須完全匹配其中之一。
func NewHub(manager *Manager, logger *slog.Logger, allowedOrigins []string) *Hub {
	return &Hub{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		connections: make(map[string]map[string]*Connection),
	}
}

// ServeWS 處理 WebSocket 連接
//
// 升級後連接處於未綁定狀態，所有綁定都透過 join-room 消息完成：
// 先連接，再用事件操作房間。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, 64),
		Hub:  hub,
	}

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"conn_id", connection.ID,
		"remote_addr", r.RemoteAddr)
}

// bind 將連接綁定到 (房間, 玩家) 並加入映射
func (hub *Hub) bind(c *Connection, roomCode, playerID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.connections[roomCode] == nil {
		hub.connections[roomCode] = make(map[string]*Connection)
	}

	// 同一玩家的舊連接（若存在）直接關閉，新連接取而代之
	if old, exists := hub.connections[roomCode][playerID]; exists && old != c {
		old.close()
	}

	hub.connections[roomCode][playerID] = c

	c.mu.Lock()
	c.roomCode = roomCode
	c.playerID = playerID
	c.mu.Unlock()
}

// unregister 從映射移除連接
//
// 回傳 c 是否仍是該玩家的現役連接：被新連接頂替的舊連接
// 會回傳 false，斷線處理據此決定是否執行 leave。
func (hub *Hub) unregister(c *Connection) bool {
	roomCode, playerID := c.binding()
	if roomCode == "" {
		return false
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	if roomConns, exists := hub.connections[roomCode]; exists {
		if actual, exists := roomConns[playerID]; exists && actual == c {
			delete(roomConns, playerID)
			if len(roomConns) == 0 {
				delete(hub.connections, roomCode)
			}
			return true
		}
	}
	return false
}

// Broadcast 向房間內所有連接發送事件
func (hub *Hub) Broadcast(roomCode, event string, data any) {
	hub.broadcastExcept(roomCode, event, data, nil)
}

// broadcastExcept 向房間內除 exclude 外的連接發送事件
func (hub *Hub) broadcastExcept(roomCode, event string, data any, exclude *Connection) {
	message, err := json.Marshal(serverMessage{Type: event, Data: data})
	if err != nil {
		hub.logger.Error("序列化廣播消息失敗", "error", err, "event", event)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, conn := range hub.connections[roomCode] {
		if conn == exclude {
			continue
		}
		select {
		case conn.Send <- message:
		default:
			// 緩衝區滿：跳過這條消息，避免慢客戶端拖垮整個房間
			hub.logger.Warn("連接緩衝區滿，丟棄廣播",
				"room_code", roomCode,
				"conn_id", conn.ID,
				"event", event)
		}
	}
}

// ConnectionCount 取得各房間的連接數
func (hub *Hub) ConnectionCount() map[string]int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	result := make(map[string]int, len(hub.connections))
	for roomCode, conns := range hub.connections {
		result[roomCode] = len(conns)
	}
	return result
}

// Stop 關閉所有連接
func (hub *Hub) Stop() {
	hub.mu.Lock()
	for _, roomConns := range hub.connections {
		for _, conn := range roomConns {
			conn.close()
		}
	}
	hub.connections = make(map[string]map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// binding 讀取連接的綁定（未綁定時房間碼為空字串）
func (c *Connection) binding() (roomCode, playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode, c.playerID
}

// close 關閉發送通道與底層連接（冪等）
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
	c.Conn.Close()
}

// reply 直接回覆發送端（帶關聯序號）
func (c *Connection) reply(seq int64, data resultData) {
	message, err := json.Marshal(serverMessage{Type: "result", Seq: seq, Data: data})
	if err != nil {
		c.Hub.logger.Error("序列化回覆失敗", "error", err, "conn_id", c.ID)
		return
	}
	select {
	case c.Send <- message:
	default:
	}
}

// replyError 回覆結構化的失敗結果
func (c *Connection) replyError(seq int64, code, message string) {
	c.reply(seq, resultData{Success: false, Code: code, Error: message})
}

// readPump 讀取並分發客戶端消息
//
// 讀取端的心跳：60 秒沒有任何消息（含 Pong）就視為死連接。
// 對每條消息的處理都包了 recover：一條消息引發的 panic
// 只終結這一條連接，不影響其他房間或進程本身。
func (c *Connection) readPump() {
	defer func() {
		c.handleDisconnect()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤", "error", err, "conn_id", c.ID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.dispatch(message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 發送端的心跳：每 54 秒一個 Ping。批量傾倒 Send 佇列中
// 已累積的消息，減少系統呼叫。
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試優雅關閉
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch 分發一條客戶端消息
//
// 流程（同步）：解析 → 解析綁定 → 房間操作 → 成功即廣播快照。
// 所有可恢復錯誤都以結構化回覆返回，格式錯誤同樣走 BAD_REQUEST，
// 絕不讓單條消息的問題升級為進程故障。
func (c *Connection) dispatch(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.Hub.logger.Error("處理消息時發生 panic",
				"panic", r,
				"conn_id", c.ID)
			c.Conn.Close()
		}
	}()

	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.Hub.logger.Warn("解析客戶端消息失敗", "error", err, "conn_id", c.ID)
		c.replyError(0, CodeBadRequest, "Malformed message")
		return
	}

	switch msg.Type {
	case "create-room":
		c.handleCreateRoom(msg.Seq)
	case "join-room":
		c.handleJoinRoom(msg.Seq, msg.Data)
	case "player-ready":
		c.handlePlayerReady(msg.Data)
	case "make-move":
		c.handleMakeMove(msg.Seq, msg.Data)
	case "reset-game":
		c.handleResetGame()
	default:
		c.Hub.logger.Debug("收到未知消息類型",
			"type", msg.Type,
			"conn_id", c.ID)
		c.replyError(msg.Seq, CodeBadRequest, "Unknown event type")
	}
}

// handleCreateRoom 處理 create-room
//
// 只創建房間並回覆房間碼，創建者隨後需自行 join-room。
// 沒有任何廣播對象（房間還是空的）。
func (c *Connection) handleCreateRoom(seq int64) {
	room, err := c.Hub.manager.CreateRoom()
	if err != nil {
		c.Hub.logger.Error("創建房間失敗", "error", err, "conn_id", c.ID)
		c.replyError(seq, CodeBadRequest, "Could not create room")
		return
	}

	c.reply(seq, resultData{Success: true, RoomID: room.Code})
}

// handleJoinRoom 處理 join-room
//
// 成功時：綁定連接 → 直接回覆符號與完整快照 →
// 向房間內「其他」連接廣播 player-joined（加入者已拿到快照）。
func (c *Connection) handleJoinRoom(seq int64, data json.RawMessage) {
	var payload joinRoomData
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" || payload.PlayerID == "" {
		c.replyError(seq, CodeBadRequest, "roomId and playerId are required")
		return
	}

	if roomCode, _ := c.binding(); roomCode != "" {
		c.replyError(seq, CodeBadRequest, "Already in a room")
		return
	}

	room, err := c.Hub.manager.GetRoom(payload.RoomID)
	if err != nil {
		c.replyError(seq, CodeNotFound, "Room not found")
		return
	}

	symbol, err := room.AddPlayer(payload.PlayerID)
	if err != nil {
		c.replyError(seq, CodeRoomFull, "Room is full")
		return
	}

	c.Hub.bind(c, room.Code, payload.PlayerID)

	state := room.State()
	c.reply(seq, resultData{Success: true, Symbol: symbol, GameState: &state})
	c.Hub.broadcastExcept(room.Code, "player-joined", state, c)

	c.Hub.logger.Info("玩家加入房間",
		"room_code", room.Code,
		"player_id", payload.PlayerID,
		"symbol", symbol,
		"conn_id", c.ID)
}

// handlePlayerReady 處理 player-ready
func (c *Connection) handlePlayerReady(data json.RawMessage) {
	roomCode, playerID := c.binding()
	if roomCode == "" {
		return
	}

	var payload readyData
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	room, err := c.Hub.manager.GetRoom(roomCode)
	if err != nil {
		return
	}

	room.SetReady(playerID, payload.Ready)
	c.Hub.Broadcast(roomCode, "game-state-update", room.State())
}

// handleMakeMove 處理 make-move
func (c *Connection) handleMakeMove(seq int64, data json.RawMessage) {
	roomCode, playerID := c.binding()
	if roomCode == "" {
		c.replyError(seq, CodeNotAMember, "Not in a room")
		return
	}

	var payload moveData
	if err := json.Unmarshal(data, &payload); err != nil || payload.Index == nil {
		c.replyError(seq, CodeBadRequest, "index is required")
		return
	}

	room, err := c.Hub.manager.GetRoom(roomCode)
	if err != nil {
		c.replyError(seq, CodeNotFound, "Room not found")
		return
	}

	if err := room.MakeMove(playerID, *payload.Index); err != nil {
		c.replyError(seq, errorCode(err), "Invalid move")
		return
	}

	c.reply(seq, resultData{Success: true})
	c.Hub.Broadcast(roomCode, "game-state-update", room.State())
}

// handleResetGame 處理 reset-game
func (c *Connection) handleResetGame() {
	roomCode, _ := c.binding()
	if roomCode == "" {
		return
	}

	room, err := c.Hub.manager.GetRoom(roomCode)
	if err != nil {
		return
	}

	room.Reset()
	c.Hub.Broadcast(roomCode, "game-state-update", room.State())
}

// handleDisconnect 傳輸層斷線
//
// 不是錯誤，而是生命週期轉移：為綁定的玩家執行 leave。
// 房間清空時由註冊表回收；尚有成員時向其廣播 player-left。
func (c *Connection) handleDisconnect() {
	roomCode, playerID := c.binding()

	active := c.Hub.unregister(c)
	c.closeOnce.Do(func() {
		close(c.Send)
	})

	// 被新連接頂替的舊連接不觸發 leave（座位已被接管）
	if roomCode == "" || !active {
		return
	}

	room, alive := c.Hub.manager.LeaveRoom(roomCode, playerID)
	if alive {
		c.Hub.Broadcast(roomCode, "player-left", room.State())
	}

	c.Hub.logger.Info("WebSocket 連接斷開",
		"conn_id", c.ID,
		"room_code", roomCode,
		"player_id", playerID)
}

// errorCode 將房間層錯誤映射為協議錯誤碼
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, ErrNotAMember):
		return CodeNotAMember
	case errors.Is(err, ErrNotStarted):
		return CodeNotStarted
	case errors.Is(err, ErrWrongTurn):
		return CodeWrongTurn
	case errors.Is(err, ErrCellOccupied):
		return CodeCellOccupied
	case errors.Is(err, ErrInvalidIndex):
		return CodeBadRequest
	default:
		return CodeBadRequest
	}
}
