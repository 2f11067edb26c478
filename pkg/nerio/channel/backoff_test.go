package channel

import (
	"testing"
	"time"
)

func TestReconnectDelay(t *testing.T) {
	cases := []struct {
		retries int
		want    time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 10 * time.Second},
		{3, 30 * time.Second},
		{4, 60 * time.Second},
		{5, time.Minute},
		{6, time.Minute},
		{100, time.Minute},
		{-1, time.Minute},
	}

	for _, tc := range cases {
		if got := ReconnectDelay(tc.retries); got != tc.want {
			t.Errorf("ReconnectDelay(%d) = %v, want %v", tc.retries, got, tc.want)
		}
	}
}
