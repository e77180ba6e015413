package errors

import "fmt"

var (
	ErrWorkerPanic    = fmt.Errorf("worker panic")
	ErrEmptyWords     = fmt.Errorf("no words have been found")
	ErrBusClosed      = fmt.Errorf("broadcast bus closed")
	ErrListenerClosed = fmt.Errorf("listener closed")
	ErrNoListener     = fmt.Errorf("no listener configured")
)
