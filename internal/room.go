package internal

import (
	"errors"
	"slices"
	"sync"
	"time"
)

// 系統設計問題：
//   如何在多條連接併發輸入下，保證單一對局狀態的一致性？
//
// 核心挑戰：
//   1. 服務器權威：客戶端送來的是「請求」而非「事實」，
//      所有規則判定必須在服務器端完成（防作弊）
//   2. 亂序輸入：重複落子、開局前落子、斷線後落子都可能出現
//   3. 併發控制：同一房間最多兩條連接同時操作
//   4. 原子性：join / ready / move / reset / leave 彼此不可交錯
//
// 設計方案：
//   ✅ 命令方法 - 狀態只能透過 Room 的方法變更，方法回傳明確錯誤
//   ✅ RWMutex - 每個房間一把鎖，操作線性化；不同房間互不阻塞
//   ✅ 試算後提交 - 先在副本上落子判勝，再一次性提交
//   ✅ 純函數規則引擎 - 勝負判定無狀態，鎖內呼叫無副作用

// 可恢復的操作錯誤
//
// 呼叫端用 errors.Is 判別類別，再轉換成協議層的錯誤碼。
// 這些錯誤都不是致命的：拒絕單次操作，狀態保持不變。
var (
	ErrRoomFull     = errors.New("房間已滿")
	ErrNotAMember   = errors.New("玩家不在房間內")
	ErrNotStarted   = errors.New("遊戲尚未開始或已結束")
	ErrWrongTurn    = errors.New("還沒輪到該玩家")
	ErrCellOccupied = errors.New("棋格已被佔用")
	ErrInvalidIndex = errors.New("無效的棋格索引")
)

// PlayerState 房間內的玩家
type PlayerState struct {
	ID      string `json:"id"`
	Symbol  Symbol `json:"symbol"`
	IsReady bool   `json:"isReady"`
}

// GameState 對局狀態快照
//
// 每次成功操作後廣播給房間內所有連接的完整視圖。
// 欄位名稱即線上協議：與前端約定的 JSON 鍵保持一致。
type GameState struct {
	Board       [BoardSize]Symbol `json:"board"`
	XIsNext     bool              `json:"xIsNext"`
	QueueX      []int             `json:"queueX"`
	QueueO      []int             `json:"queueO"`
	Winner      Symbol            `json:"winner"`
	GameStarted bool              `json:"gameStarted"`
	Players     []PlayerState     `json:"players"`
}

// Room 一局遊戲的完整狀態
//
// 不變量（由命令方法維護）：
//   - 玩家數 ≤ 2，先加入者執 x，後加入者執 o
//   - 每個符號的佇列長度 ≤ 3，唯一例外是致勝的那一手
//     （勝負判定先於移除，致勝時佇列可短暫為 4）
//   - 棋格非空 ⇔ 其索引恰好出現在一個佇列中
//   - Winner 非空 ⇒ Started 為真，且不再接受落子
//
// 欄位可供讀取（測試、序列化），但只能透過方法變更。
type Room struct {
	Code      string
	Players   map[string]*PlayerState
	Board     [BoardSize]Symbol
	XIsNext   bool
	QueueX    []int
	QueueO    []int
	Winner    Symbol
	Started   bool
	CreatedAt time.Time

	Mu         sync.RWMutex
	order      []string  // 加入順序（決定符號分配與快照排序）
	lastActive time.Time // 最後活動時間（空房回收用）
}

// NewRoom 創建空房間
func NewRoom(code string) *Room {
	now := time.Now()
	return &Room{
		Code:       code,
		Players:    make(map[string]*PlayerState),
		XIsNext:    true,
		QueueX:     make([]int, 0, PieceLimit+1),
		QueueO:     make([]int, 0, PieceLimit+1),
		CreatedAt:  now,
		lastActive: now,
	}
}

// AddPlayer 加入玩家並分配符號
//
// 容量檢查先於一切：兩人滿員後一律回 ErrRoomFull，
// 重複的 playerID 不做特殊處理。
// 第一位加入者執 x，第二位執 o；符號在成員資格存續期間不變。
func (r *Room) AddPlayer(playerID string) (Symbol, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if len(r.Players) >= 2 {
		return SymbolNone, ErrRoomFull
	}

	symbol := SymbolX
	if len(r.Players) == 1 {
		symbol = SymbolO
	}

	r.Players[playerID] = &PlayerState{
		ID:     playerID,
		Symbol: symbol,
	}
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == playerID })
	r.order = append(r.order, playerID)
	r.lastActive = time.Now()

	return symbol, nil
}

// RemovePlayer 移除玩家
//
// 非成員為無操作。房間清空時重置對局狀態；
// 空房間的刪除由 Manager 負責（最後一人離開即刪除）。
// 留下的那位玩家的 ready 旗標不會被這裡清除，
// Started 也不會被動清除（只有 reset 或 ready 重算能清）。
func (r *Room) RemovePlayer(playerID string) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if _, exists := r.Players[playerID]; !exists {
		return
	}

	delete(r.Players, playerID)
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == playerID })
	r.lastActive = time.Now()

	if len(r.Players) == 0 {
		r.resetLocked()
	}
}

// SetReady 設置玩家準備狀態
//
// 非成員為無操作（靜默）。每次切換都重算 Started：
// 取消準備必須能把已開始的對局退回未開始，否則 reset 後
// 無法重新走一次 ready 握手。
func (r *Room) SetReady(playerID string, ready bool) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	player, exists := r.Players[playerID]
	if !exists {
		return
	}

	player.IsReady = ready
	r.recomputeStartedLocked()
	r.lastActive = time.Now()
}

// recomputeStartedLocked 重算開局條件：恰好兩人且全部準備
func (r *Room) recomputeStartedLocked() {
	if len(r.Players) != 2 {
		r.Started = false
		return
	}
	for _, p := range r.Players {
		if !p.IsReady {
			r.Started = false
			return
		}
	}
	r.Started = true
}

// MakeMove 落子（核心狀態轉移）
//
// 前置條件依序檢查，任一失敗即拒絕且不改動任何狀態：
//   1. 成員資格
//   2. 對局進行中（已開始且無勝者）
//   3. 輪到該玩家
//   4. 索引合法且棋格為空
//
// 轉移流程（試算後提交）：
//   1. 在副本上落子、將索引附加到該符號的佇列（長度可能暫為 4）
//   2. 在試算棋盤上判定勝負
//   3. 致勝 → 直接提交（跳過移除，佇列可保持 4），記錄勝者
//   4. 未勝 → 佇列超過 3 時移除最舊一顆並清空該棋格（每手至多一次）
//
// 勝負判定先於移除是這個變體的規則本身：
// 完成連線的那一手永遠算數，即使它原本會把連線中的棋子擠掉。
func (r *Room) MakeMove(playerID string, index int) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	player, exists := r.Players[playerID]
	if !exists {
		return ErrNotAMember
	}

	if !r.Started || r.Winner != SymbolNone {
		return ErrNotStarted
	}

	turn := SymbolO
	if r.XIsNext {
		turn = SymbolX
	}
	if player.Symbol != turn {
		return ErrWrongTurn
	}

	if !ValidIndex(index) {
		return ErrInvalidIndex
	}
	if r.Board[index] != SymbolNone {
		return ErrCellOccupied
	}

	queue := r.QueueO
	if player.Symbol == SymbolX {
		queue = r.QueueX
	}

	// 試算：落子 + 附加佇列
	nextBoard := r.Board
	nextBoard[index] = player.Symbol
	nextQueue := append(slices.Clone(queue), index)

	// 先判勝，後移除
	if CalculateWinner(nextBoard) == player.Symbol {
		r.commitLocked(player.Symbol, nextBoard, nextQueue)
		r.Winner = player.Symbol
		r.XIsNext = !r.XIsNext
		r.lastActive = time.Now()
		return nil
	}

	// 超過上限：移除最舊一顆（每手恰好一次）
	if len(nextQueue) > PieceLimit {
		oldest := nextQueue[0]
		nextQueue = nextQueue[1:]
		nextBoard[oldest] = SymbolNone
	}

	r.commitLocked(player.Symbol, nextBoard, nextQueue)
	r.XIsNext = !r.XIsNext
	r.lastActive = time.Now()
	return nil
}

// commitLocked 提交試算結果
func (r *Room) commitLocked(symbol Symbol, board [BoardSize]Symbol, queue []int) {
	r.Board = board
	if symbol == SymbolX {
		r.QueueX = queue
	} else {
		r.QueueO = queue
	}
}

// Reset 重置對局
//
// 清空棋盤、佇列與勝者，所有玩家回到未準備，Started 直接清除，
// 等待下一輪 ready 握手。先手符號採交替規則：從重置前的 turn
// 再翻轉一次，而不是固定回到 x。
func (r *Room) Reset() {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.resetLocked()
}

func (r *Room) resetLocked() {
	r.Board = [BoardSize]Symbol{}
	r.QueueX = make([]int, 0, PieceLimit+1)
	r.QueueO = make([]int, 0, PieceLimit+1)
	r.Winner = SymbolNone
	r.Started = false
	r.XIsNext = !r.XIsNext
	for _, p := range r.Players {
		p.IsReady = false
	}
	r.lastActive = time.Now()
}

// State 取得對局狀態快照（用於序列化與廣播）
//
// 回傳值與內部狀態完全脫鉤：佇列與玩家列表都是新切片，
// 呼叫端持有快照期間不需要鎖。玩家依加入順序排列。
func (r *Room) State() GameState {
	r.Mu.RLock()
	defer r.Mu.RUnlock()

	players := make([]PlayerState, 0, len(r.order))
	for _, id := range r.order {
		if p, exists := r.Players[id]; exists {
			players = append(players, *p)
		}
	}

	return GameState{
		Board:       r.Board,
		XIsNext:     r.XIsNext,
		QueueX:      slices.Clone(r.QueueX),
		QueueO:      slices.Clone(r.QueueO),
		Winner:      r.Winner,
		GameStarted: r.Started,
		Players:     players,
	}
}

// PlayerCount 取得玩家數量
func (r *Room) PlayerCount() int {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return len(r.Players)
}

// HasPlayer 檢查玩家是否為房間成員
func (r *Room) HasPlayer(playerID string) bool {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	_, exists := r.Players[playerID]
	return exists
}

// IsExpired 檢查房間是否可回收
//
// 只回收「一直是空的」房間：create-room 之後客戶端直接斷線，
// 房間永遠等不到第一位玩家，定期清理用這個條件兜底。
// 有人的房間永不過期。
func (r *Room) IsExpired(emptyIdle time.Duration) bool {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return len(r.Players) == 0 && time.Since(r.lastActive) > emptyIdle
}
