package config

import (
	"testing"

	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrolink/internal/diag"
	"github.com/retroenv/retrolink/internal/options"
	"github.com/retroenv/retrolink/internal/region"
)

func TestNewLink(t *testing.T) {
	t.Run("derived settings", func(t *testing.T) {
		opts := options.Program{
			Flags: options.Flags{
				PadByte:  0x00,
				DMG:      true,
				Warnings: []string{"error=div", "no-shift-amount", "div"},
			},
		}

		link, err := NewLink(opts)
		assert.NoError(t, err)
		assert.Equal(t, byte(0x00), link.Writer.PadByte)
		assert.Equal(t, uint32(1), link.Regions.Region(region.VRAM).BankCount)
		assert.Equal(t, uint32(0), link.Regions.Region(region.WRAMX).BankCount)
		assert.Equal(t, diag.WarningOn, link.Diag.Warnings[diag.WarnDiv])
		assert.Equal(t, diag.WarningOff, link.Diag.Warnings[diag.WarnShiftAmount])
	})

	t.Run("promote all warnings", func(t *testing.T) {
		link, err := NewLink(options.Program{Flags: options.Flags{Warnings: []string{"error"}}})
		assert.NoError(t, err)
		assert.True(t, link.Diag.AllAsErrors)
	})

	t.Run("unknown warning", func(t *testing.T) {
		_, err := NewLink(options.Program{Flags: options.Flags{Warnings: []string{"no-bogus"}}})
		assert.ErrorContains(t, err, "unknown warning 'bogus'")
	})
}

func TestCreateLogger(t *testing.T) {
	assert.NotNil(t, CreateLogger(true, false))
	assert.NotNil(t, CreateLogger(false, true))
}
