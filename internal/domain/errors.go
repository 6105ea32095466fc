package domain

import "errors"

var (
	ErrNameRequired    = errors.New("name is required")
	ErrCommandRequired = errors.New("command is required")
	ErrTypeRequired    = errors.New("bot_type is required")
	ErrUnknownAction   = errors.New("unknown bot action")
)
