package diag

import (
	"errors"
	"testing"

	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"
)

var errTest = errors.New("test error")

func TestParseWarningFlag(t *testing.T) {
	tests := []struct {
		name    string
		flag    string
		warning string
		mode    WarningMode
		all     bool
		wantErr bool
	}{
		{name: "enable", flag: "div", warning: WarnDiv, mode: WarningOn},
		{name: "disable", flag: "no-assert", warning: WarnAssert, mode: WarningOff},
		{name: "promote", flag: "error=shift-amount", warning: WarnShiftAmount, mode: WarningError},
		{name: "promote all", flag: "error", all: true},
		{name: "unknown", flag: "no-such-warning", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts Options
			err := opts.ParseWarningFlag(tt.flag)
			if tt.wantErr {
				assert.ErrorContains(t, err, "unknown warning")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.all, opts.AllAsErrors)
			if tt.warning != "" {
				assert.Equal(t, tt.mode, opts.Warnings[tt.warning])
			}
		})
	}
}

func TestContext(t *testing.T) {
	t.Run("errors are collected", func(t *testing.T) {
		ctx := New(log.NewNop(), Options{})
		assert.NoError(t, ctx.Err())

		ctx.Error(errTest)
		ctx.Error(errors.New("second"))
		assert.Equal(t, 2, ctx.ErrorCount())
		assert.ErrorIs(t, ctx.Err(), errTest)
		assert.Equal(t, 2, len(ctx.Errors()))
	})

	t.Run("warning modes", func(t *testing.T) {
		ctx := New(log.NewNop(), Options{
			Warnings: map[string]WarningMode{
				WarnAssert: WarningOff,
				WarnDiv:    WarningError,
			},
		})

		ctx.Warn(WarnAssert, errTest)
		assert.Equal(t, 0, ctx.ErrorCount())
		assert.Equal(t, 0, ctx.WarningCount())

		ctx.Warn(WarnShiftAmount, errTest)
		assert.Equal(t, 0, ctx.ErrorCount())
		assert.Equal(t, 1, ctx.WarningCount())

		ctx.Warn(WarnDiv, errTest)
		assert.Equal(t, 1, ctx.ErrorCount())
		assert.ErrorIs(t, ctx.Err(), errTest)
		assert.ErrorContains(t, ctx.Err(), "-Werror=div")
	})

	t.Run("all warnings as errors", func(t *testing.T) {
		ctx := New(log.NewNop(), Options{AllAsErrors: true})
		ctx.Warn(WarnShiftAmount, errTest)
		assert.Equal(t, 1, ctx.ErrorCount())
		assert.Equal(t, 0, ctx.WarningCount())
	})
}
