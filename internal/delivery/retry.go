package delivery

import (
	"net/http"
	"time"
)

// MaxAttempts is the default retry budget per target per dispatch.
const MaxAttempts = 3

// Backoff is the wait after failed attempt n before attempt n+1: 2^n seconds.
func Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 30 {
		n = 30
	}
	return time.Duration(1<<n) * time.Second
}

// Result classifies a single attempt.
type Result int

const (
	ResultRetryable Result = iota
	ResultSuccess
	ResultPermanent
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultPermanent:
		return "permanent_failure"
	default:
		return "retryable_failure"
	}
}

// Classify maps an HTTP status to a Result. 0 means no response was obtained.
func Classify(statusCode int) Result {
	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		return ResultSuccess
	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError:
		return ResultPermanent
	default:
		return ResultRetryable
	}
}

// State is the per-target delivery state.
type State string

const (
	StatePending          State = "pending"
	StateAttempting       State = "attempting"
	StateSuccess          State = "success"
	StatePermanentFailure State = "permanent_failure"
	StateExhausted        State = "exhausted"
	StateBlocked          State = "blocked"
	StateCancelled        State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StatePending, StateAttempting:
		return false
	default:
		return true
	}
}

// machine drives one target through its attempts. It lives on the stack of
// the goroutine delivering that target.
type machine struct {
	state   State
	attempt int
	max     int
}

func newMachine(max int) *machine {
	if max <= 0 {
		max = MaxAttempts
	}
	return &machine{state: StatePending, max: max}
}

// begin moves to the next attempt and returns its 1-based number.
func (m *machine) begin() int {
	m.attempt++
	m.state = StateAttempting
	return m.attempt
}

// observe records the outcome of the current attempt. When the returned state
// is not terminal, the caller waits for the returned delay and calls begin.
func (m *machine) observe(r Result) (State, time.Duration) {
	switch r {
	case ResultSuccess:
		m.state = StateSuccess
	case ResultPermanent:
		m.state = StatePermanentFailure
	default:
		if m.attempt >= m.max {
			m.state = StateExhausted
			break
		}
		return m.state, Backoff(m.attempt)
	}
	return m.state, 0
}

func (m *machine) cancel() {
	m.state = StateCancelled
}
