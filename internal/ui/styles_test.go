package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatControl(t *testing.T) {
	tests := []struct {
		name string
		key  string
		desc string
	}{
		{name: "basic control", key: "q", desc: "Quit"},
		{name: "longer key", key: "ctrl+c", desc: "Quit immediately"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatControl(tt.key, tt.desc)
			assert.Contains(t, got, tt.key)
			assert.Contains(t, got, tt.desc)
		})
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		status    string
		indicator string
	}{
		{name: "enabled session", enabled: true, status: "alice", indicator: "●"},
		{name: "disabled session", enabled: false, status: "bob", indicator: "○"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatStatus(tt.enabled, tt.status)
			assert.Contains(t, got, tt.status)
			assert.Contains(t, got, tt.indicator)
		})
	}
}

func TestFormatListItem(t *testing.T) {
	for _, active := range []bool{false, true} {
		got := FormatListItem("HDMI-0", active)
		assert.Contains(t, got, "•")
		assert.Contains(t, got, "HDMI-0")
	}
}

func TestFormatShortcutState(t *testing.T) {
	for _, state := range []string{"granted", "pending", "denied", "released", "state(9)"} {
		assert.Contains(t, FormatShortcutState(state), state)
	}
}

func TestCreateSeparator(t *testing.T) {
	assert.Empty(t, CreateSeparator(0, "─"))
	assert.Contains(t, CreateSeparator(3, "─"), "───")
}
