package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	all := []Status{StatusUnlinked, StatusActive, StatusSuspended, StatusRevoked}
	allowed := map[Status][]Status{
		StatusUnlinked:  {StatusActive},
		StatusActive:    {StatusSuspended, StatusRevoked, StatusUnlinked},
		StatusSuspended: {StatusActive, StatusRevoked, StatusUnlinked},
		StatusRevoked:   {StatusUnlinked},
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestRevokedIsTerminalExceptReregistration(t *testing.T) {
	assert.False(t, StatusRevoked.CanTransitionTo(StatusActive))
	assert.False(t, StatusRevoked.CanTransitionTo(StatusSuspended))
	assert.True(t, StatusRevoked.CanTransitionTo(StatusUnlinked))
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("suspended")
	assert.True(t, ok)
	assert.Equal(t, StatusSuspended, s)
	_, ok = ParseStatus("deleted")
	assert.False(t, ok)
}
