package gpu

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"
)

var (
	// ErrResourceCreation means a swapchain, view, framebuffer, command
	// buffer or sync object was rejected. Fatal, no retry.
	ErrResourceCreation = errors.New("resource creation rejected")

	// ErrStaleSwapchain means the surface is out of date or suboptimal.
	// Recoverable by draining and rebuilding the swapchain.
	ErrStaleSwapchain = errors.New("swapchain out of date")

	// ErrSubmission means a queue submission or fence wait was rejected.
	// Fatal: it implies a broken invariant or a lost device.
	ErrSubmission = errors.New("queue submission rejected")

	// ErrPresent means presentation was rejected for a reason other than a
	// stale swapchain.
	ErrPresent = errors.New("present rejected")
)

// ResultError carries the accelerator result behind a failed call.
type ResultError struct {
	Class  error
	Op     string
	Result vulkan.Result
	Caller string
}

func (e *ResultError) Error() string {
	msg := fmt.Sprintf("%v: %s: vulkan result %d", e.Class, e.Op, e.Result)
	if err := vulkan.Error(e.Result); err != nil {
		msg = fmt.Sprintf("%v: %s: %v (%d)", e.Class, e.Op, err, e.Result)
	}
	if e.Caller != "" {
		msg += " on " + e.Caller
	}
	return msg
}

func (e *ResultError) Unwrap() error {
	return e.Class
}

// NewError returns nil when ret is vulkan.Success, and a *ResultError of the
// given class otherwise.
func NewError(class error, op string, ret vulkan.Result) error {
	if !IsError(ret) {
		return nil
	}
	return &ResultError{
		Class:  class,
		Op:     op,
		Result: ret,
		Caller: callerFrame(2),
	}
}

func IsError(ret vulkan.Result) bool {
	return ret != vulkan.Success
}

// IsStale reports whether ret asks for the swapchain to be rebuilt.
func IsStale(ret vulkan.Result) bool {
	return ret == vulkan.ErrorOutOfDate || ret == vulkan.Suboptimal
}

// Recoverable reports whether err can be cleared by draining and rebuilding
// the swapchain: a stale swapchain, or a rejected presentation on a device and
// surface that are still alive.
func Recoverable(err error) bool {
	if errors.Is(err, ErrStaleSwapchain) {
		return true
	}
	if !errors.Is(err, ErrPresent) {
		return false
	}
	var rerr *ResultError
	if errors.As(err, &rerr) {
		return rerr.Result != vulkan.ErrorDeviceLost && rerr.Result != vulkan.ErrorSurfaceLost
	}
	return true
}

// Errorf creates an error of the given class that is not backed by an
// accelerator result.
func Errorf(class error, format string, args ...interface{}) error {
	return errors.Wrapf(class, format, args...)
}

// OrPanic runs the finalizers and panics when err is not nil.
func OrPanic(err error, finalizers ...func()) {
	if err == nil {
		return
	}
	for _, fn := range finalizers {
		fn()
	}
	panic(err)
}

// CheckError recovers a panic into *err. It must be deferred directly.
func CheckError(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = e
			return
		}
		*err = fmt.Errorf("%+v", v)
	}
}

func callerFrame(skip int) string {
	pc := make([]uintptr, 1)
	if runtime.Callers(skip+1, pc) == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames(pc).Next()
	if frame.Function == "" {
		return ""
	}
	return fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line)
}
