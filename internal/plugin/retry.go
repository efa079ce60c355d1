// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds repeated Load attempts.
type RetryPolicy struct {
	// Attempts is the total number of Load calls, including the first.
	Attempts uint64
	// Base is the first backoff delay; later delays grow exponentially.
	Base time.Duration
}

// DefaultRetryPolicy makes three attempts starting at a 500ms backoff.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Base: 500 * time.Millisecond}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = DefaultRetryPolicy.Base
	}
	retries := uint64(0)
	if p.Attempts > 1 {
		retries = p.Attempts - 1
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(retries, b)
}

// LoadWithRetry calls Load until the plugin reaches StateLoaded, the policy
// is exhausted, or ctx is done. It returns the final state; the last contained
// failure stays available through LastError.
func LoadWithRetry(ctx context.Context, m *Manager, policy RetryPolicy) State {
	attempt := 0
	_ = retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		state := m.Load(ctx)
		if state == StateLoaded {
			return nil
		}
		err := m.LastError()
		if err == nil {
			err = oops.Code(CodeLoadFailed).Errorf("plugin ended load in state %s", state)
		}
		m.logger.WarnContext(ctx, "plugin load attempt failed",
			"attempt", attempt,
			"max_attempts", policy.Attempts,
			"error", err)
		return retry.RetryableError(err)
	})
	return m.State()
}
