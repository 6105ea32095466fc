package domain

import (
	"fmt"
	"strings"
)

// Action 用户触发的 bot 操作
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

// ParseAction 解析操作名（大小写不敏感）
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionStart, ActionStop, ActionRestart:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// PendingStatus 操作被后端接受后，本地乐观展示的过渡状态
func (a Action) PendingStatus() BotStatus {
	if a == ActionStop {
		return BotStatusStopping
	}
	return BotStatusStarting
}
