package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryStateSuccessReturnsPoll(t *testing.T) {
	r := &retryState{max: 3, poll: 5 * time.Minute, short: time.Minute, long: 5 * time.Minute}
	assert.Equal(t, 5*time.Minute, r.Next(true))
	assert.Equal(t, 0, r.consecutive)
}

func TestRetryStateEscalatesToLongBackoff(t *testing.T) {
	r := &retryState{max: 3, poll: 5 * time.Minute, short: time.Minute, long: 10 * time.Minute}

	assert.Equal(t, time.Minute, r.Next(false))
	assert.Equal(t, time.Minute, r.Next(false))
	assert.Equal(t, 10*time.Minute, r.Next(false), "third consecutive failure hits the long backoff")
	assert.Equal(t, 0, r.consecutive, "long backoff resets the counter")
	assert.Equal(t, time.Minute, r.Next(false), "the cycle starts over")
}

func TestRetryStateSuccessResetsCounter(t *testing.T) {
	r := &retryState{max: 3, poll: 5 * time.Minute, short: time.Minute, long: 10 * time.Minute}

	r.Next(false)
	r.Next(false)
	assert.Equal(t, 5*time.Minute, r.Next(true))
	assert.Equal(t, time.Minute, r.Next(false), "failure streak restarts after a success")
}
