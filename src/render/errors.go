package render

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotInitialized = errors.New("renderer not initialized")
	ErrClosed         = errors.New("renderer shut down")
)

// InitError is returned by Init. Stage names the step that failed.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("render init: %s: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// FrameError is returned by DrawFrame for failures a rebuild cannot recover.
type FrameError struct {
	Frame uint64
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("render frame %d: %v", e.Frame, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
