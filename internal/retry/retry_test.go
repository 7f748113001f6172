package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Do(t *testing.T) {
	errBoom := errors.New("boom")

	testCases := []struct {
		name         string
		failures     int
		attempts     int
		wantErr      bool
		wantAttempts int
	}{
		{
			name:         "first attempt succeeds",
			failures:     0,
			attempts:     3,
			wantAttempts: 1,
		},
		{
			name:         "third attempt succeeds",
			failures:     2,
			attempts:     3,
			wantAttempts: 3,
		},
		{
			name:         "all attempts fail",
			failures:     5,
			attempts:     3,
			wantErr:      true,
			wantAttempts: 3,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tc.attempts, time.Millisecond, func() error {
				calls++
				if calls <= tc.failures {
					return errBoom
				}
				return nil
			})

			assert.Equal(t, tc.wantAttempts, calls)
			if tc.wantErr {
				assert.ErrorIs(t, err, errBoom)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func Test_Do_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, 3, time.Minute, func() error {
		calls++
		return errors.New("boom")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
