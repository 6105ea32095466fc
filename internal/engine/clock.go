package engine

import "sync/atomic"

// Clock 单调逻辑时钟
// 推送合并时给 bot 打戳，快照请求发出时领取票据，两者共用同一时钟以判断先后
type Clock struct {
	v atomic.Uint64
}

// Next 前进并返回新值（从 1 开始）
func (c *Clock) Next() uint64 {
	return c.v.Add(1)
}

// Now 当前值，不前进
func (c *Clock) Now() uint64 {
	return c.v.Load()
}
