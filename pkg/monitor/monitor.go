package monitor

import "ddx/pkg/api"

// Monitor 介面定義了監控器的行為
type Monitor interface {
	// Start 啟動監控器
	Start() error

	// Stop 停止監控器
	Stop() error

	// OnEvent 接收並顯示一筆 case 軌跡事件
	OnEvent(event api.TrailEvent)
}
