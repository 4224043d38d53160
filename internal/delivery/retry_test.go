package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 4*time.Second, Backoff(2))
	assert.Equal(t, 8*time.Second, Backoff(3))
	assert.Equal(t, time.Second, Backoff(-1))
}

func TestClassify(t *testing.T) {
	cases := map[int]Result{
		0:   ResultRetryable,
		200: ResultSuccess,
		204: ResultSuccess,
		299: ResultSuccess,
		301: ResultRetryable,
		400: ResultPermanent,
		404: ResultPermanent,
		429: ResultPermanent,
		499: ResultPermanent,
		500: ResultRetryable,
		503: ResultRetryable,
	}
	for code, want := range cases {
		assert.Equal(t, want, Classify(code), "status %d", code)
	}
}

func TestMachineRetriesUntilExhausted(t *testing.T) {
	m := newMachine(3)
	assert.Equal(t, StatePending, m.state)

	var delays []time.Duration
	for {
		m.begin()
		state, wait := m.observe(ResultRetryable)
		if state.Terminal() {
			assert.Equal(t, StateExhausted, state)
			break
		}
		delays = append(delays, wait)
	}
	assert.Equal(t, 3, m.attempt)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, delays)
}

func TestMachineStopsOnSuccessAndPermanent(t *testing.T) {
	m := newMachine(3)
	m.begin()
	state, _ := m.observe(ResultSuccess)
	assert.Equal(t, StateSuccess, state)
	assert.True(t, state.Terminal())

	m = newMachine(3)
	m.begin()
	state, _ = m.observe(ResultPermanent)
	assert.Equal(t, StatePermanentFailure, state)
	assert.Equal(t, 1, m.attempt)
}

func TestMachineDefaultsBudget(t *testing.T) {
	assert.Equal(t, MaxAttempts, newMachine(0).max)
}
