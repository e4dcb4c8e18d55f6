package internal_test

import (
	"testing"

	"github.com/koopa0/infitoe/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startedRoom 建立一個已開局的房間：p1 執 x，p2 執 o，x 先手
func startedRoom(t *testing.T) *internal.Room {
	t.Helper()

	room := internal.NewRoom("ABC123")

	symbol, err := room.AddPlayer("p1")
	require.NoError(t, err)
	require.Equal(t, internal.SymbolX, symbol)

	symbol, err = room.AddPlayer("p2")
	require.NoError(t, err)
	require.Equal(t, internal.SymbolO, symbol)

	room.SetReady("p1", true)
	room.SetReady("p2", true)

	state := room.State()
	require.True(t, state.GameStarted)
	require.True(t, state.XIsNext)

	return room
}

// playSequence 依序落子，每一手都必須成功
func playSequence(t *testing.T, room *internal.Room, moves [][2]any) {
	t.Helper()
	for _, m := range moves {
		playerID := m[0].(string)
		index := m[1].(int)
		require.NoError(t, room.MakeMove(playerID, index),
			"move by %s at %d should succeed", playerID, index)
	}
}

// TestNewRoom 測試創建空房間
func TestNewRoom(t *testing.T) {
	room := internal.NewRoom("ABC123")

	state := room.State()
	assert.Equal(t, "ABC123", room.Code)
	assert.Empty(t, state.Players)
	assert.True(t, state.XIsNext)
	assert.False(t, state.GameStarted)
	assert.Equal(t, internal.SymbolNone, state.Winner)
	assert.Empty(t, state.QueueX)
	assert.Empty(t, state.QueueO)
	for _, cell := range state.Board {
		assert.Equal(t, internal.SymbolNone, cell)
	}
}

// TestRoom_AddPlayer 測試加入玩家與符號分配
func TestRoom_AddPlayer(t *testing.T) {
	tests := []struct {
		name      string
		setupRoom func() *internal.Room
		playerID  string
		validate  func(t *testing.T, room *internal.Room, symbol internal.Symbol, err error)
	}{
		{
			name: "first joiner gets x",
			setupRoom: func() *internal.Room {
				return internal.NewRoom("R1")
			},
			playerID: "p1",
			validate: func(t *testing.T, room *internal.Room, symbol internal.Symbol, err error) {
				require.NoError(t, err)
				assert.Equal(t, internal.SymbolX, symbol)
				assert.Equal(t, 1, room.PlayerCount())
			},
		},
		{
			name: "second joiner gets o",
			setupRoom: func() *internal.Room {
				room := internal.NewRoom("R2")
				room.AddPlayer("p1")
				return room
			},
			playerID: "p2",
			validate: func(t *testing.T, room *internal.Room, symbol internal.Symbol, err error) {
				require.NoError(t, err)
				assert.Equal(t, internal.SymbolO, symbol)
				assert.Equal(t, 2, room.PlayerCount())
			},
		},
		{
			name: "third joiner rejected with room full",
			setupRoom: func() *internal.Room {
				room := internal.NewRoom("R3")
				room.AddPlayer("p1")
				room.AddPlayer("p2")
				return room
			},
			playerID: "p3",
			validate: func(t *testing.T, room *internal.Room, symbol internal.Symbol, err error) {
				require.ErrorIs(t, err, internal.ErrRoomFull)
				assert.Equal(t, internal.SymbolNone, symbol)
				assert.Equal(t, 2, room.PlayerCount())
				assert.False(t, room.HasPlayer("p3"))
			},
		},
		{
			name: "duplicate join rejected once room is full",
			setupRoom: func() *internal.Room {
				room := internal.NewRoom("R4")
				room.AddPlayer("p1")
				room.AddPlayer("p2")
				return room
			},
			playerID: "p1",
			validate: func(t *testing.T, room *internal.Room, symbol internal.Symbol, err error) {
				// 容量檢查先於一切：已在房間內的玩家同樣被擋下
				require.ErrorIs(t, err, internal.ErrRoomFull)
				assert.Equal(t, 2, room.PlayerCount())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := tt.setupRoom()
			symbol, err := room.AddPlayer(tt.playerID)
			tt.validate(t, room, symbol, err)
		})
	}
}

// TestRoom_SetReady 測試準備握手與開局條件
func TestRoom_SetReady(t *testing.T) {
	tests := []struct {
		name     string
		run      func(t *testing.T, room *internal.Room)
		validate func(t *testing.T, state internal.GameState)
	}{
		{
			name: "one ready player does not start the game",
			run: func(t *testing.T, room *internal.Room) {
				room.AddPlayer("p1")
				room.AddPlayer("p2")
				room.SetReady("p1", true)
			},
			validate: func(t *testing.T, state internal.GameState) {
				assert.False(t, state.GameStarted)
			},
		},
		{
			name: "both ready with two players starts the game",
			run: func(t *testing.T, room *internal.Room) {
				room.AddPlayer("p1")
				room.AddPlayer("p2")
				room.SetReady("p1", true)
				room.SetReady("p2", true)
			},
			validate: func(t *testing.T, state internal.GameState) {
				assert.True(t, state.GameStarted)
			},
		},
		{
			name: "lone ready player never starts the game",
			run: func(t *testing.T, room *internal.Room) {
				room.AddPlayer("p1")
				room.SetReady("p1", true)
			},
			validate: func(t *testing.T, state internal.GameState) {
				assert.False(t, state.GameStarted)
			},
		},
		{
			name: "unready reverts a started game",
			run: func(t *testing.T, room *internal.Room) {
				room.AddPlayer("p1")
				room.AddPlayer("p2")
				room.SetReady("p1", true)
				room.SetReady("p2", true)
				room.SetReady("p1", false)
			},
			validate: func(t *testing.T, state internal.GameState) {
				assert.False(t, state.GameStarted)
			},
		},
		{
			name: "non member is a silent no-op",
			run: func(t *testing.T, room *internal.Room) {
				room.AddPlayer("p1")
				room.AddPlayer("p2")
				room.SetReady("p1", true)
				room.SetReady("p2", true)
				room.SetReady("ghost", false)
			},
			validate: func(t *testing.T, state internal.GameState) {
				assert.True(t, state.GameStarted)
				assert.Len(t, state.Players, 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := internal.NewRoom("R1")
			tt.run(t, room)
			tt.validate(t, room.State())
		})
	}
}

// TestRoom_MakeMove_Rejections 測試落子的前置條件
//
// 每個被拒絕的操作都不得改動任何狀態：
// 拒絕前後的快照必須完全相等。
func TestRoom_MakeMove_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		setupRoom   func(t *testing.T) *internal.Room
		playerID    string
		index       int
		expectedErr error
	}{
		{
			name: "non member rejected",
			setupRoom: func(t *testing.T) *internal.Room {
				return startedRoom(t)
			},
			playerID:    "ghost",
			index:       0,
			expectedErr: internal.ErrNotAMember,
		},
		{
			name: "move before game start rejected",
			setupRoom: func(t *testing.T) *internal.Room {
				room := internal.NewRoom("R1")
				room.AddPlayer("p1")
				room.AddPlayer("p2")
				return room
			},
			playerID:    "p1",
			index:       0,
			expectedErr: internal.ErrNotStarted,
		},
		{
			name: "move after win rejected",
			setupRoom: func(t *testing.T) *internal.Room {
				room := startedRoom(t)
				// x 連成 {0,1,2}，o 墊在不擋路的位置
				playSequence(t, room, [][2]any{
					{"p1", 0}, {"p2", 3}, {"p1", 1}, {"p2", 4}, {"p1", 2},
				})
				require.Equal(t, internal.SymbolX, room.State().Winner)
				return room
			},
			playerID:    "p2",
			index:       8,
			expectedErr: internal.ErrNotStarted,
		},
		{
			name: "out of turn rejected",
			setupRoom: func(t *testing.T) *internal.Room {
				return startedRoom(t)
			},
			playerID:    "p2",
			index:       0,
			expectedErr: internal.ErrWrongTurn,
		},
		{
			name: "occupied cell rejected",
			setupRoom: func(t *testing.T) *internal.Room {
				room := startedRoom(t)
				playSequence(t, room, [][2]any{{"p1", 4}})
				return room
			},
			playerID:    "p2",
			index:       4,
			expectedErr: internal.ErrCellOccupied,
		},
		{
			name: "index out of range rejected",
			setupRoom: func(t *testing.T) *internal.Room {
				return startedRoom(t)
			},
			playerID:    "p1",
			index:       9,
			expectedErr: internal.ErrInvalidIndex,
		},
		{
			name: "negative index rejected",
			setupRoom: func(t *testing.T) *internal.Room {
				return startedRoom(t)
			},
			playerID:    "p1",
			index:       -1,
			expectedErr: internal.ErrInvalidIndex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := tt.setupRoom(t)
			before := room.State()

			err := room.MakeMove(tt.playerID, tt.index)

			require.ErrorIs(t, err, tt.expectedErr)
			assert.Equal(t, before, room.State(), "rejected move must not mutate state")
		})
	}
}

// TestRoom_MakeMove_BasicFlow 測試基本落子與換手
func TestRoom_MakeMove_BasicFlow(t *testing.T) {
	room := startedRoom(t)

	require.NoError(t, room.MakeMove("p1", 4))

	state := room.State()
	assert.Equal(t, internal.SymbolX, state.Board[4])
	assert.False(t, state.XIsNext)
	assert.Equal(t, []int{4}, state.QueueX)

	require.NoError(t, room.MakeMove("p2", 0))

	state = room.State()
	assert.Equal(t, internal.SymbolO, state.Board[0])
	assert.True(t, state.XIsNext)
	assert.Equal(t, []int{0}, state.QueueO)
	assert.Equal(t, internal.SymbolNone, state.Winner)
}

// TestRoom_MakeMove_Eviction 測試第 4 顆棋子觸發的移除
//
// x 依序落在 0、1、5（不成線），第 4 手落在 7：
// 最舊的 0 被移除且棋格清空，佇列變為 [1 5 7]，每手至多移除一顆。
func TestRoom_MakeMove_Eviction(t *testing.T) {
	room := startedRoom(t)

	playSequence(t, room, [][2]any{
		{"p1", 0}, {"p2", 3},
		{"p1", 1}, {"p2", 4},
		{"p1", 5}, {"p2", 8},
		{"p1", 7}, // 第 4 顆：移除最舊的 0
	})

	state := room.State()
	assert.Equal(t, internal.SymbolNone, state.Winner)
	assert.Equal(t, []int{1, 5, 7}, state.QueueX)
	assert.Equal(t, internal.SymbolNone, state.Board[0], "evicted cell must be cleared")
	assert.Equal(t, internal.SymbolX, state.Board[7])
	assert.LessOrEqual(t, len(state.QueueX), internal.PieceLimit)
	assert.LessOrEqual(t, len(state.QueueO), internal.PieceLimit)
}

// TestRoom_MakeMove_WinAtLimit 測試佇列滿三顆時的致勝一手
func TestRoom_MakeMove_WinAtLimit(t *testing.T) {
	room := startedRoom(t)

	playSequence(t, room, [][2]any{
		{"p1", 0}, {"p2", 3},
		{"p1", 1}, {"p2", 4},
		{"p1", 2}, // 完成 {0,1,2}
	})

	state := room.State()
	assert.Equal(t, internal.SymbolX, state.Winner)
	assert.Equal(t, []int{0, 1, 2}, state.QueueX)
	assert.True(t, state.GameStarted)
}

// TestRoom_MakeMove_WinBeforeEviction 測試勝負判定先於移除
//
// x 的第 4 手完成連線，而這一手原本會把連線中最舊的棋子擠掉：
// 勝利必須成立，移除被跳過，佇列可保持 4 顆。
func TestRoom_MakeMove_WinBeforeEviction(t *testing.T) {
	room := startedRoom(t)

	playSequence(t, room, [][2]any{
		{"p1", 0}, {"p2", 3},
		{"p1", 1}, {"p2", 4},
		{"p1", 6}, {"p2", 8},
		{"p1", 2}, // 第 4 顆完成 {0,1,2}，0 本該被移除
	})

	state := room.State()
	assert.Equal(t, internal.SymbolX, state.Winner)
	assert.Equal(t, []int{0, 1, 6, 2}, state.QueueX, "winning move skips eviction")
	assert.Equal(t, internal.SymbolX, state.Board[0], "oldest piece stays on the board")
	assert.Len(t, state.QueueX, internal.PieceLimit+1)
}

// TestRoom_QueueBound 測試佇列上限在長對局中始終成立
func TestRoom_QueueBound(t *testing.T) {
	room := startedRoom(t)

	// 雙方繞圈落子，反覆觸發移除但都不成線
	moves := [][2]any{
		{"p1", 0}, {"p2", 2},
		{"p1", 1}, {"p2", 5},
		{"p1", 3}, {"p2", 7},
		{"p1", 4}, // x 移除 0
		{"p2", 0}, // o 移除 2
		{"p1", 2}, // x 移除 1
		{"p2", 1}, // o 移除 5
	}
	for _, m := range moves {
		require.NoError(t, room.MakeMove(m[0].(string), m[1].(int)))

		state := room.State()
		require.Equal(t, internal.SymbolNone, state.Winner)
		require.LessOrEqual(t, len(state.QueueX), internal.PieceLimit)
		require.LessOrEqual(t, len(state.QueueO), internal.PieceLimit)

		// 棋格非空 ⇔ 索引恰好在一個佇列中
		occupied := 0
		for _, cell := range state.Board {
			if cell != internal.SymbolNone {
				occupied++
			}
		}
		require.Equal(t, len(state.QueueX)+len(state.QueueO), occupied)
	}
}

// TestRoom_Reset 測試重置
func TestRoom_Reset(t *testing.T) {
	room := startedRoom(t)

	playSequence(t, room, [][2]any{
		{"p1", 0}, {"p2", 3}, {"p1", 1}, {"p2", 4}, {"p1", 2},
	})
	require.Equal(t, internal.SymbolX, room.State().Winner)

	turnBefore := room.State().XIsNext
	room.Reset()

	state := room.State()
	assert.Equal(t, internal.SymbolNone, state.Winner)
	assert.False(t, state.GameStarted)
	assert.Empty(t, state.QueueX)
	assert.Empty(t, state.QueueO)
	for _, cell := range state.Board {
		assert.Equal(t, internal.SymbolNone, cell)
	}
	// 先手交替：從重置前的 turn 再翻轉一次
	assert.Equal(t, !turnBefore, state.XIsNext)
	// 所有玩家回到未準備
	for _, p := range state.Players {
		assert.False(t, p.IsReady)
	}

	// 重置後必須重新走一次 ready 握手才能落子
	err := room.MakeMove("p1", 0)
	assert.ErrorIs(t, err, internal.ErrNotStarted)

	room.SetReady("p1", true)
	room.SetReady("p2", true)
	assert.True(t, room.State().GameStarted)
}

// TestRoom_RemovePlayer 測試玩家離開
func TestRoom_RemovePlayer(t *testing.T) {
	t.Run("remaining player keeps stale ready flag", func(t *testing.T) {
		room := startedRoom(t)
		room.RemovePlayer("p2")

		state := room.State()
		assert.Equal(t, 1, room.PlayerCount())
		require.Len(t, state.Players, 1)
		assert.Equal(t, "p1", state.Players[0].ID)
		// 留下的玩家的 ready 不因對方離開而被清除
		assert.True(t, state.Players[0].IsReady)
	})

	t.Run("emptied room resets game state", func(t *testing.T) {
		room := startedRoom(t)
		playSequence(t, room, [][2]any{{"p1", 4}})

		room.RemovePlayer("p1")
		room.RemovePlayer("p2")

		state := room.State()
		assert.Equal(t, 0, room.PlayerCount())
		assert.False(t, state.GameStarted)
		assert.Empty(t, state.QueueX)
		for _, cell := range state.Board {
			assert.Equal(t, internal.SymbolNone, cell)
		}
	})

	t.Run("non member is a no-op", func(t *testing.T) {
		room := startedRoom(t)
		before := room.State()

		room.RemovePlayer("ghost")

		assert.Equal(t, before, room.State())
	})
}

// TestRoom_State_Isolation 測試快照與內部狀態脫鉤
func TestRoom_State_Isolation(t *testing.T) {
	room := startedRoom(t)
	playSequence(t, room, [][2]any{{"p1", 0}})

	state := room.State()
	state.QueueX[0] = 8
	state.Board[5] = internal.SymbolO
	state.Players[0].IsReady = false

	fresh := room.State()
	assert.Equal(t, []int{0}, fresh.QueueX)
	assert.Equal(t, internal.SymbolNone, fresh.Board[5])
	assert.True(t, fresh.Players[0].IsReady)
}

// TestRoom_EndToEnd 測試完整對局流程
//
// 創建 → 兩人加入 → 雙方準備 → 交替落子 → 連成三子 →
// 勝者確定後任何落子都被拒絕。
func TestRoom_EndToEnd(t *testing.T) {
	room := internal.NewRoom("E2E001")

	symbol, err := room.AddPlayer("alice")
	require.NoError(t, err)
	require.Equal(t, internal.SymbolX, symbol)

	symbol, err = room.AddPlayer("bob")
	require.NoError(t, err)
	require.Equal(t, internal.SymbolO, symbol)

	// 開局前落子被拒
	require.ErrorIs(t, room.MakeMove("alice", 4), internal.ErrNotStarted)

	room.SetReady("alice", true)
	require.False(t, room.State().GameStarted)
	room.SetReady("bob", true)
	require.True(t, room.State().GameStarted)

	// alice 走中路，bob 防守失敗
	playSequence(t, room, [][2]any{
		{"alice", 4}, {"bob", 0},
		{"alice", 1}, {"bob", 2},
		{"alice", 7}, // 完成 {1,4,7}
	})

	state := room.State()
	require.Equal(t, internal.SymbolX, state.Winner)

	// 勝者確定後對局凍結
	require.ErrorIs(t, room.MakeMove("bob", 8), internal.ErrNotStarted)
	require.ErrorIs(t, room.MakeMove("alice", 8), internal.ErrNotStarted)
}
