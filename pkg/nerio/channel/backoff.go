package channel

import "time"

// reconnectDelays is the fixed ladder for the first reconnection attempts.
// Attempts beyond the ladder wait a constant minute.
var reconnectDelays = []time.Duration{
	0,                // 0: immediately
	2 * time.Second,  // 1: after 2s
	10 * time.Second, // 2: after 10s
	30 * time.Second, // 3: after 30s
	60 * time.Second, // 4: after 60s
}

const constantReconnectDelay = time.Minute

// ReconnectDelay returns the wait before the next connection attempt given
// the number of previous failed retries.
func ReconnectDelay(previousRetryCount int) time.Duration {
	if previousRetryCount >= 0 && previousRetryCount < len(reconnectDelays) {
		return reconnectDelays[previousRetryCount]
	}
	return constantReconnectDelay
}
