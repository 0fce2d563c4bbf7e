// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler runs recurring background tasks on a shared ticker
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type TaskFunc func(ctx context.Context)

type ScheduledTask struct {
	task              TaskFunc
	runFailFunc       func()
	running           atomic.Bool
	interval          int
	ticksSinceLastRun int
}

// Scheduler ticks at a fixed interval and runs each registered task every
// N ticks. A task never overlaps with itself: when it is due while its
// previous run is still going, the run is skipped and its run fail func
// is called instead.
type Scheduler struct {
	ctx                context.Context
	cancel             context.CancelFunc
	ticker             *time.Ticker
	quit               chan struct{}
	updateIntervalChan chan time.Duration
	tasks              []*ScheduledTask
	interval           time.Duration
	wg                 sync.WaitGroup
	mutex              sync.Mutex
	startOnce          sync.Once
	stopOnce           sync.Once
}

func NewScheduler(interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:                ctx,
		cancel:             cancel,
		interval:           interval,
		quit:               make(chan struct{}),
		updateIntervalChan: make(chan time.Duration),
		tasks:              []*ScheduledTask{},
	}
}

// Start the timer (run goroutine once)
func (st *Scheduler) Start() {
	st.startOnce.Do(func() {
		st.ticker = time.NewTicker(st.interval)
		st.wg.Add(1)
		go st.run()
	})
}

func (st *Scheduler) run() {
	defer st.wg.Done()
	for {
		select {
		case <-st.ticker.C:
			st.tick()
		case newInterval := <-st.updateIntervalChan:
			st.mutex.Lock()
			st.ticker.Reset(newInterval)
			st.interval = newInterval
			st.mutex.Unlock()
		case <-st.quit:
			st.ticker.Stop()
			return
		}
	}
}

func (st *Scheduler) tick() {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	for _, task := range st.tasks {
		task.ticksSinceLastRun++
		if task.ticksSinceLastRun < task.interval {
			continue
		}
		task.ticksSinceLastRun = 0
		st.runTask(task)
	}
}

func (st *Scheduler) runTask(task *ScheduledTask) {
	if !task.running.CompareAndSwap(false, true) {
		if task.runFailFunc != nil {
			task.runFailFunc()
		}
		return
	}
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		defer task.running.Store(false)
		task.task(st.ctx)
	}()
}

// Register adds a task run every interval ticks. runFailFunc may be nil.
func (st *Scheduler) Register(interval int, task TaskFunc, runFailFunc func()) {
	if interval < 1 {
		interval = 1
	}
	st.mutex.Lock()
	defer st.mutex.Unlock()
	st.tasks = append(st.tasks, &ScheduledTask{
		interval:    interval,
		task:        task,
		runFailFunc: runFailFunc,
	})
}

// ChangeInterval updates the tick interval of the Scheduler at runtime.
// The update is dropped if the scheduler is not running.
func (st *Scheduler) ChangeInterval(newInterval time.Duration) {
	select {
	case st.updateIntervalChan <- newInterval:
	case <-st.quit:
	case <-time.After(time.Second):
	}
}

// Stop the ticker, cancel the context handed to tasks and wait for running
// tasks to return
func (st *Scheduler) Stop() {
	st.stopOnce.Do(func() {
		close(st.quit)
		st.cancel()
		st.wg.Wait()
	})
}
