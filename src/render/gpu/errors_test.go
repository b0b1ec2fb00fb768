package gpu

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"
)

func TestNewError(t *testing.T) {
	require.NoError(t, NewError(ErrSubmission, "queue submit", vulkan.Success))

	err := NewError(ErrSubmission, "queue submit", vulkan.ErrorDeviceLost)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSubmission))
	assert.False(t, errors.Is(err, ErrPresent))
	assert.Contains(t, err.Error(), "queue submit")
	assert.Contains(t, err.Error(), "TestNewError")
	assert.Equal(t, 1, strings.Count(err.Error(), "vulkan error"), err.Error())

	var rerr *ResultError
	require.True(t, errors.As(errors.Wrap(err, "slot 1"), &rerr))
	assert.Equal(t, vulkan.ErrorDeviceLost, rerr.Result)
}

func TestRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"out of date", NewError(ErrStaleSwapchain, "acquire", vulkan.ErrorOutOfDate), true},
		{"suboptimal wrapped", errors.Wrap(NewError(ErrStaleSwapchain, "present", vulkan.Suboptimal), "frame 3"), true},
		{"present rejected", NewError(ErrPresent, "present", vulkan.ErrorOutOfHostMemory), true},
		{"present device lost", NewError(ErrPresent, "present", vulkan.ErrorDeviceLost), false},
		{"present surface lost", NewError(ErrPresent, "present", vulkan.ErrorSurfaceLost), false},
		{"submission", NewError(ErrSubmission, "submit", vulkan.ErrorOutOfDate), false},
		{"creation", Errorf(ErrResourceCreation, "no formats"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recoverable(tt.err))
		})
	}
}

func TestIsStale(t *testing.T) {
	assert.True(t, IsStale(vulkan.ErrorOutOfDate))
	assert.True(t, IsStale(vulkan.Suboptimal))
	assert.False(t, IsStale(vulkan.Success))
	assert.False(t, IsStale(vulkan.ErrorDeviceLost))
}

func TestOrPanicCheckError(t *testing.T) {
	var finalized bool
	run := func(in error) (err error) {
		defer CheckError(&err)
		OrPanic(in, func() { finalized = true })
		return nil
	}

	assert.NoError(t, run(nil))
	assert.False(t, finalized)

	failed := Errorf(ErrResourceCreation, "no device")
	err := run(failed)
	assert.True(t, errors.Is(err, ErrResourceCreation))
	assert.True(t, finalized)
}
