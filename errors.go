package ftl

import "errors"

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrTimeout         = errors.New("function timeout")
	ErrClosed          = errors.New("bus is closed")
	ErrNotConnected    = errors.New("bus is not connected")
	ErrInvalidState    = errors.New("driver not ready")
)
