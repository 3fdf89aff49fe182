package statemachine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/north-cloud/crawlcoord/internal/domain"
	"github.com/north-cloud/crawlcoord/internal/statemachine"
)

func TestValidate_AllowedTransitions(t *testing.T) {
	allowed := []struct{ from, to domain.Status }{
		{domain.StatusPending, domain.StatusActive},
		{domain.StatusPending, domain.StatusUnreachable},
		{domain.StatusActive, domain.StatusActive},
		{domain.StatusActive, domain.StatusExhausted},
		{domain.StatusActive, domain.StatusBlocked},
		{domain.StatusActive, domain.StatusUnreachable},
		{domain.StatusExhausted, domain.StatusPending},
		{domain.StatusExhausted, domain.StatusActive},
		{domain.StatusBlocked, domain.StatusPending},
		{domain.StatusBlocked, domain.StatusActive},
		{domain.StatusUnreachable, domain.StatusPending},
		{domain.StatusUnreachable, domain.StatusActive},
	}

	for _, tc := range allowed {
		err := statemachine.Validate(tc.from, tc.to)
		assert.NoErrorf(t, err, "%s -> %s should be legal", tc.from, tc.to)
	}
}

func TestValidate_IllegalTransitions(t *testing.T) {
	illegal := []struct{ from, to domain.Status }{
		{domain.StatusPending, domain.StatusExhausted},
		{domain.StatusPending, domain.StatusBlocked},
		{domain.StatusPending, domain.StatusPending},
		{domain.StatusExhausted, domain.StatusBlocked},
		{domain.StatusExhausted, domain.StatusUnreachable},
		{domain.StatusBlocked, domain.StatusExhausted},
		{domain.StatusUnreachable, domain.StatusExhausted},
	}

	for _, tc := range illegal {
		err := statemachine.Validate(tc.from, tc.to)
		assert.Errorf(t, err, "%s -> %s should be illegal", tc.from, tc.to)
		assert.True(t, errors.Is(err, domain.ErrIllegalTransition))
	}
}

func TestValidate_UnknownSource(t *testing.T) {
	err := statemachine.Validate(domain.Status("bogus"), domain.StatusActive)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIllegalTransition))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, statemachine.IsTerminal(domain.StatusBlocked))
	assert.True(t, statemachine.IsTerminal(domain.StatusUnreachable))
	assert.False(t, statemachine.IsTerminal(domain.StatusPending))
	assert.False(t, statemachine.IsTerminal(domain.StatusActive))
	assert.False(t, statemachine.IsTerminal(domain.StatusExhausted))
}
