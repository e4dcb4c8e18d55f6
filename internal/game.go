package internal

// 遊戲規則：有限棋子井字棋（bounded-piece tic-tac-toe）
//
// 與傳統井字棋的差異：
//   - 每位玩家在棋盤上最多保留 3 顆棋子
//   - 放下第 4 顆時，最舊的一顆會被移除（先進先出）
//   - 勝負判定在移除之前進行：致勝的一手永遠算數，
//     即使這一手原本會觸發移除
//
// 這個檔案只包含純函數：勝負判定與合法性檢查不持有任何狀態，
// 所有狀態都屬於 Room。

// Symbol 玩家棋子符號
//
// 採用小寫字串而非 iota，原因：
//   - 直接對應線上協議（JSON 序列化無需轉換）
//   - 空字串即為空格，與前端的 falsy 判斷相容
type Symbol string

const (
	SymbolX    Symbol = "x"
	SymbolO    Symbol = "o"
	SymbolNone Symbol = "" // 空格 / 無勝者
)

// Opponent 取得對手符號
func (s Symbol) Opponent() Symbol {
	switch s {
	case SymbolX:
		return SymbolO
	case SymbolO:
		return SymbolX
	default:
		return SymbolNone
	}
}

const (
	// BoardSize 棋盤格數（3×3）
	BoardSize = 9

	// PieceLimit 每位玩家的棋子上限
	PieceLimit = 3
)

// winCombinations 8 條致勝連線：3 橫、3 直、2 斜
var winCombinations = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// CalculateWinner 計算棋盤上的勝者
//
// 逐一檢查 8 條連線，三格同色即為勝者；沒有連線時回傳 SymbolNone。
// 純函數：不修改棋盤，可安全用於「試算」（先落子、後判定）。
func CalculateWinner(board [BoardSize]Symbol) Symbol {
	for _, combo := range winCombinations {
		a, b, c := combo[0], combo[1], combo[2]
		if board[a] != SymbolNone && board[a] == board[b] && board[a] == board[c] {
			return board[a]
		}
	}
	return SymbolNone
}

// ValidIndex 檢查棋格索引是否在棋盤範圍內
func ValidIndex(index int) bool {
	return index >= 0 && index < BoardSize
}
