package server

import "errors"

var (
	ErrEngineRequired = errors.New("engine is required")
)
