package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from    TransactionStatus
		to      TransactionStatus
		allowed bool
	}{
		{StatusSubmitted, StatusCompleted, true},
		{StatusSubmitted, StatusFailed, true},
		{StatusSubmitted, StatusFlagged, true},
		{StatusSubmitted, StatusSubmitted, false},
		{StatusFlagged, StatusCompleted, true},
		{StatusFlagged, StatusFailed, true},
		{StatusFlagged, StatusSubmitted, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusSubmitted, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, StatusSubmitted.IsTerminal())
	assert.False(t, StatusFlagged.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}
