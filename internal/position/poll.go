// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package position

import (
	"context"
	"errors"
	"time"

	"github.com/wneessen/geotrack/internal/job"
)

// LocateFunc looks up the current position once.
type LocateFunc func(ctx context.Context) (Sample, error)

// Poll runs locate right away and then once per period and emits a sample whenever the located position
// differs from the last emitted one. Failed lookups are retried on the next tick, except for errors
// wrapping ErrUnavailable, which are sent as a terminal update. The returned stream is closed once ctx
// is cancelled or a terminal update was sent.
func Poll(ctx context.Context, period time.Duration, locate LocateFunc) <-chan Update {
	out := make(chan Update)
	go func() {
		defer close(out)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		state := State{}
		job.New(period, func(ctx context.Context) {
			sample, err := locate(ctx)
			switch {
			case errors.Is(err, ErrUnavailable):
				select {
				case <-ctx.Done():
				case out <- Update{Err: err}:
				}
				cancel()
				return
			case err != nil, !state.HasChanged(sample):
				return
			}
			state.Update(sample)
			select {
			case <-ctx.Done():
			case out <- Update{Sample: sample}:
			}
		}).Start(ctx)
	}()
	return out
}
