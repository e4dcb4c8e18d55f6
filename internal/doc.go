// Package internal 實現了有限棋子井字棋的多人對戰核心。
//
// 遊戲變體規則：每位玩家在 3×3 棋盤上最多保留 3 顆棋子，
// 放下第 4 顆時最舊的一顆會被移除；勝負判定先於移除，
// 所以致勝的一手永遠算數。
//
// 架構分層（葉子在前）：
//   - 規則引擎（game.go）：勝負判定與合法性檢查，純函數
//   - Room（room.go）：單一對局的全部狀態與命令方法
//   - Manager（manager.go）：進程內的 code → Room 註冊表
//   - Hub（websocket.go）：連接綁定、協議分發、房間廣播
//   - Handler（handler.go）：健康檢查與統計的 HTTP 運維面
//
// 併發模型：
//   - 每個房間一把 RWMutex，join / ready / move / reset / leave
//     對同一房間線性化，不同房間互不阻塞
//   - 註冊表的映射另有一把鎖，只保護創建 / 查詢 / 刪除
//   - 所有房間操作都是同步的內存計算，不等待 I/O、不可中斷
//
// 服務器是唯一的狀態權威：客戶端送來的操作一律先驗證，
// 成功後才把新的狀態快照廣播給房間內的每一條連接。
package internal
