package internal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// 註冊表層級的錯誤
var (
	ErrRoomNotFound = errors.New("房間不存在")
	ErrTooManyRooms = errors.New("房間數量已達上限")
)

// codeChars 房間碼字符集：大寫字母 + 數字，方便口頭分享
const codeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Manager 房間註冊表
//
// 進程內唯一的 code → Room 映射，生命週期由持有者（連接層）控制，
// 不是隱式的套件級單例。
//
// 系統設計考量：
//
//  1. 鎖的粒度：
//     註冊表只用一把 RWMutex 保護映射本身（創建 / 查詢 / 刪除），
//     對局狀態的變更走各自房間的鎖。不同房間的操作互不阻塞，
//     映射的讀寫預期競爭很低（創建 / 刪除遠少於對局操作）。
//
//  2. 房間碼碰撞：
//     6 位 36 進制約 22 億種組合，存活房間數遠小於此，
//     仍然在持鎖狀態下檢查碰撞並重試，保證絕不覆蓋存活房間。
//
//  3. 資源回收：
//     正常路徑：最後一位玩家離開 → 立即刪除。
//     兜底路徑：創建後始終無人加入的空房（creator 斷線）
//     由定期清理回收，避免內存洩漏。
type Manager struct {
	rooms  map[string]*Room // code -> Room
	mu     sync.RWMutex
	logger *slog.Logger

	maxRooms  int
	emptyIdle time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ManagerOptions 註冊表配置
type ManagerOptions struct {
	MaxRooms        int           // 存活房間上限，<=0 表示不限制
	EmptyIdle       time.Duration // 空房回收閾值
	CleanupInterval time.Duration // 清理週期
}

// NewManager 創建房間註冊表並啟動清理 goroutine
func NewManager(logger *slog.Logger, opts ManagerOptions) *Manager {
	if opts.EmptyIdle <= 0 {
		opts.EmptyIdle = 5 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}

	m := &Manager{
		rooms:     make(map[string]*Room),
		logger:    logger,
		maxRooms:  opts.MaxRooms,
		emptyIdle: opts.EmptyIdle,
		stopCh:    make(chan struct{}),
	}

	m.wg.Add(1)
	go m.cleanupLoop(opts.CleanupInterval)

	return m
}

// CreateRoom 創建空房間
//
// 生成不與任何存活房間衝突的房間碼，在同一個臨界區內
// 完成檢查與寫入，併發創建不可能拿到同一個碼。
func (m *Manager) CreateRoom() (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxRooms > 0 && len(m.rooms) >= m.maxRooms {
		return nil, ErrTooManyRooms
	}

	code, err := m.freeCodeLocked()
	if err != nil {
		return nil, err
	}

	room := NewRoom(code)
	m.rooms[code] = room

	m.logger.Info("房間已創建", "room_code", code, "total_rooms", len(m.rooms))
	return room, nil
}

// freeCodeLocked 生成未被佔用的房間碼（持鎖呼叫）
func (m *Manager) freeCodeLocked() (string, error) {
	// 碰撞機率極低，重試次數用盡幾乎只可能是房間數異常
	for attempt := 0; attempt < 10; attempt++ {
		code, err := generateCode(6)
		if err != nil {
			return "", err
		}
		if _, taken := m.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("生成房間碼失敗：重試次數用盡")
}

// GetRoom 依房間碼查詢房間
//
// 房間碼不分大小寫（統一轉為大寫）。
func (m *Manager) GetRoom(code string) (*Room, error) {
	m.mu.RLock()
	room, exists := m.rooms[strings.ToUpper(code)]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return room, nil
}

// RemoveRoom 刪除房間（冪等：不存在時為無操作）
func (m *Manager) RemoveRoom(code string) {
	code = strings.ToUpper(code)

	m.mu.Lock()
	_, exists := m.rooms[code]
	delete(m.rooms, code)
	m.mu.Unlock()

	if exists {
		m.logger.Info("房間已移除", "room_code", code)
	}
}

// LeaveRoom 玩家離開房間
//
// 房間因此清空時立即從註冊表刪除（生命週期：玩家數歸零即終結）。
// 回傳房間是否仍然存在，存在時呼叫端負責向剩餘成員廣播。
func (m *Manager) LeaveRoom(code, playerID string) (*Room, bool) {
	room, err := m.GetRoom(code)
	if err != nil {
		return nil, false
	}

	room.RemovePlayer(playerID)

	if room.PlayerCount() == 0 {
		m.RemoveRoom(code)
		m.logger.Info("最後一位玩家離開，房間已回收",
			"room_code", room.Code,
			"player_id", playerID)
		return nil, false
	}

	m.logger.Info("玩家離開房間",
		"room_code", room.Code,
		"player_id", playerID)
	return room, true
}

// RoomCount 取得存活房間數
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Stats 取得統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalPlayers := 0
	gamesStarted := 0
	for _, room := range m.rooms {
		room.Mu.RLock()
		totalPlayers += len(room.Players)
		if room.Started {
			gamesStarted++
		}
		room.Mu.RUnlock()
	}

	return map[string]any{
		"total_rooms":   len(m.rooms),
		"total_players": totalPlayers,
		"games_started": gamesStarted,
	}
}

// cleanupLoop 定期回收洩漏的空房間
func (m *Manager) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

// Cleanup 執行清理（公開方法供測試使用）
func (m *Manager) Cleanup() {
	m.cleanup()
}

func (m *Manager) cleanup() {
	m.mu.RLock()
	var toRemove []string
	for code, room := range m.rooms {
		if room.IsExpired(m.emptyIdle) {
			toRemove = append(toRemove, code)
		}
	}
	m.mu.RUnlock()

	for _, code := range toRemove {
		m.RemoveRoom(code)
		m.logger.Info("空房間已過期清理", "room_code", code)
	}
}

// Stop 停止註冊表（停止清理 goroutine）
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("房間註冊表已停止")
}

// generateCode 生成隨機房間碼
func generateCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("讀取隨機源失敗: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeChars[int(b)%len(codeChars)]
	}
	return string(buf), nil
}
