package engine

import (
	"github.com/betbot/botdash/internal/stream"
)

// Consume 把推送客户端的事件转成引擎消息，直到事件通道关闭或引擎关闭
// Start 之前调用时，事件泵登记后随 Start 一起启动
func (e *Engine) Consume(events <-chan stream.Event) {
	e.sg.Add(func() {
		for {
			select {
			case <-e.ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				m := translate(ev)
				if m == nil {
					continue
				}
				if err := e.Post(m); err != nil {
					return
				}
			}
		}
	})
	if e.started.Load() {
		e.sg.Run()
	}
}

func translate(ev stream.Event) Msg {
	switch ev := ev.(type) {
	case stream.ConnChanged:
		return ConnChanged{State: ev.State}
	case stream.SystemUpdate:
		return SystemUpdateReceived{Metrics: ev.Metrics, RunningBots: ev.RunningBots}
	case stream.LogPushed:
		return LogReceived{Entry: ev.Entry}
	}
	return nil
}
