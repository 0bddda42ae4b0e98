package engine

import "errors"

var (
	ErrNotConnected = errors.New("engine: connection not open")
	ErrAlreadyOpen  = errors.New("engine: connection already open")
	ErrNotBound     = errors.New("engine: no device bound")
	ErrStopped      = errors.New("engine: stopped")
)
