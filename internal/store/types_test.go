package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from FileState
		to   FileState
		want bool
	}{
		{"initiated to scanning", StateInitiated, StateScanning, true},
		{"initiated to rejected", StateInitiated, StateRejected, true},
		{"initiated to quarantined", StateInitiated, StateQuarantine, true},
		{"initiated to active direct", StateInitiated, StateActive, false},
		{"scanning to active", StateScanning, StateActive, true},
		{"scanning to quarantined", StateScanning, StateQuarantine, true},
		{"scanning to rejected", StateScanning, StateRejected, false},
		{"active is terminal", StateActive, StateScanning, false},
		{"quarantined is terminal", StateQuarantine, StateActive, false},
		{"rejected is terminal", StateRejected, StateActive, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, StateInitiated.IsTerminal())
	assert.False(t, StateScanning.IsTerminal())
	assert.True(t, StateActive.IsTerminal())
	assert.True(t, StateQuarantine.IsTerminal())
	assert.True(t, StateRejected.IsTerminal())
}

func TestFileObjectIsDemo(t *testing.T) {
	f := &FileObject{}
	assert.False(t, f.IsDemo())

	demoID := "demo-123"
	f.DemoID = &demoID
	assert.True(t, f.IsDemo())
}
