package channel

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestUserFacingMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"cancelled", context.Canceled, "Request was cancelled"},
		{"timeout", context.DeadlineExceeded, "Request timed out"},
		{"invalid", fmt.Errorf("%w: bad payload", ErrInvalidRequest), "Invalid request parameters"},
		{"unauthorized", ErrUnauthorized, "Access denied"},
		{"wrapped timeout", fmt.Errorf("deep: %w", context.DeadlineExceeded), "Request timed out"},
		{"unknown", errors.New("disk on fire"), "An error occurred while processing the request"},
		{"nil", nil, "An error occurred while processing the request"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := UserFacingMessage(tc.err); got != tc.want {
				t.Errorf("UserFacingMessage(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
