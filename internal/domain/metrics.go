package domain

// SystemMetrics 进程级系统指标快照，每次更新整体替换
type SystemMetrics struct {
	Timestamp   *Timestamp `json:"timestamp,omitempty"`
	CPUUsage    float64    `json:"cpu_usage"`
	MemoryUsage float64    `json:"memory_usage"`
	DiskUsage   float64    `json:"disk_usage"`
	ActiveBots  int        `json:"active_bots"`
	TotalBots   int        `json:"total_bots"`
}

// ConnState 推送连接状态
type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
)

// Live 是否处于实时状态（只有 connected 才算）
func (s ConnState) Live() bool {
	return s == ConnConnected
}
