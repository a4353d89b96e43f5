package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/mapview/internal/events"
)

func TestNewConfig_Options(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := NewConfig(buf, WithForcePlain(true), WithNoColor(true), WithTitle("x"))

	assert.Equal(t, buf, cfg.Output)
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "x", cfg.Title)
}

func TestNewRenderer_NonTTY_IsPlain(t *testing.T) {
	r := NewRenderer(NewConfig(&bytes.Buffer{}))
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestNewRenderer_ForcePlain(t *testing.T) {
	r := NewRenderer(NewConfig(os.Stdout, WithForcePlain(true)))
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}

func TestAttach_ForwardsUntilDetached(t *testing.T) {
	// Given: a renderer attached to a bus
	bus := events.NewBus(nil)
	buf := &bytes.Buffer{}
	detach := Attach(bus, NewPlainRenderer(NewConfig(buf)))

	// When: events are published before and after detaching
	bus.Publish(events.Event{Kind: events.ViewReset, View: "a"})
	detach()
	bus.Publish(events.Event{Kind: events.ViewReset, View: "b"})

	// Then: only the first reached the renderer
	assert.Equal(t, "[RESET] a\n", buf.String())
}
