// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package job runs the polling loops of the position providers.
package job

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Job is a task that runs right away and then at a fixed interval. Runs never overlap.
type Job struct {
	interval time.Duration
	task     func(context.Context)
}

func New(interval time.Duration, task func(context.Context)) *Job {
	return &Job{
		interval: interval,
		task:     task,
	}
}

// Start runs the task until ctx is cancelled. A tick that fires while the previous run is still
// busy is dropped. Start only returns after the last run has finished, so the task may write to
// channels the caller closes once Start returned.
func (j *Job) Start(ctx context.Context) {
	j.start(ctx, true)
}

// Resume is Start without the initial run, for a task the caller has just run itself.
func (j *Job) Resume(ctx context.Context) {
	j.start(ctx, false)
}

func (j *Job) start(ctx context.Context, immediate bool) {
	if j.task == nil || j.interval <= 0 {
		return
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	busy := semaphore.NewWeighted(1)
	run := func() {
		if !busy.TryAcquire(1) {
			return
		}
		wg.Go(func() {
			defer busy.Release(1)
			j.task(ctx)
		})
	}

	if immediate {
		run()
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
