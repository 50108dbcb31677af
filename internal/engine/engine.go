// Package engine supervises background jobs and long running watchers. Each
// job is recorded in the repository as it moves through its statuses.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/duld/internal/common"
	"github.com/NamanBalaji/duld/internal/errors"
	"github.com/NamanBalaji/duld/internal/logger"
	"github.com/NamanBalaji/duld/internal/repository"
)

// Task is the body of one job. It must return once ctx is done.
type Task func(ctx context.Context) error

type Engine struct {
	mu sync.RWMutex

	jobs       map[uuid.UUID]*common.Job
	repository repository.Repository
	config     *Config
	slots      chan struct{}

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	running bool
}

// runTask runs a function in a goroutine tracked by the WaitGroup
func (e *Engine) runTask(task func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		task()
	}()
}

// New creates a new Engine instance
func New(config *Config, repo repository.Repository) *Engine {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	engine := &Engine{
		jobs:       make(map[uuid.UUID]*common.Job),
		repository: repo,
		config:     config,
		ctx:        ctx,
		cancelFunc: cancelFunc,
	}
	if config.MaxConcurrentJobs > 0 {
		engine.slots = make(chan struct{}, config.MaxConcurrentJobs)
	}

	return engine
}

// Init marks jobs left unfinished by a previous run as cancelled and starts
// accepting work.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	jobs, err := e.repository.FindAll()
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	for _, job := range jobs {
		if job.Status.Done() {
			continue
		}

		job.Status = common.StatusCancelled
		job.Error = errInterrupted.Error()
		job.EndTime = time.Now()
		if err := e.repository.Save(job); err != nil {
			logger.Warnf("Failed to save interrupted job %s: %v", job.ID, err)
		}
	}

	logger.Infof("Loaded %d job(s) from repository", len(jobs))

	e.running = true
	return nil
}

// Submit records a new job and runs task in the background. The returned
// job is a snapshot taken at submission. A job whose token is already queued
// or running is recorded as rejected without waiting for a slot.
func (e *Engine) Submit(kind common.Kind, token, destination string, task Task) (*common.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil, ErrEngineNotRunning
	}

	job := &common.Job{
		ID:          uuid.New(),
		Kind:        kind,
		Token:       token,
		Destination: destination,
		Status:      common.StatusQueued,
		CreatedAt:   time.Now(),
	}

	if e.pendingLocked(token) {
		err := errors.NewDedupError(ErrDuplicateJob, token)
		job.Status = statusFor(err)
		job.Error = err.Error()
		job.StartTime = job.CreatedAt
		job.EndTime = job.CreatedAt
		e.saveJobLocked(job)
		logger.Warnf("%s job %s %s: %v", job.Kind, job.Token, job.Status, err)

		snapshot := *job
		return &snapshot, nil
	}

	e.jobs[job.ID] = job
	e.saveJobLocked(job)

	snapshot := *job
	e.runTask(func() {
		e.processJob(job, task)
	})

	return &snapshot, nil
}

func (e *Engine) pendingLocked(token string) bool {
	for _, job := range e.jobs {
		if job.Token == token {
			return true
		}
	}
	return false
}

// Go runs a long lived function, such as a watcher, until shutdown.
func (e *Engine) Go(name string, fn func(ctx context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrEngineNotRunning
	}

	e.runTask(func() {
		err := e.safeRun(fn)
		switch {
		case err == nil, e.ctx.Err() != nil:
			logger.Debugf("%s stopped", name)
		default:
			logger.Errorf("%s stopped: %v", name, err)
		}
	})

	return nil
}

// Running returns snapshots of the jobs that have not finished yet
func (e *Engine) Running() []common.Job {
	e.mu.RLock()
	defer e.mu.RUnlock()

	jobs := make([]common.Job, 0, len(e.jobs))
	for _, job := range e.jobs {
		jobs = append(jobs, *job)
	}
	slices.SortFunc(jobs, func(a, b common.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	return jobs
}

// Jobs returns the whole job history, newest first
func (e *Engine) Jobs() ([]*common.Job, error) {
	return e.repository.FindAll()
}

func (e *Engine) processJob(job *common.Job, task Task) {
	if !e.acquireSlot() {
		e.finishJob(job, e.ctx.Err())
		return
	}
	defer e.releaseSlot()

	e.mu.Lock()
	job.Status = common.StatusRunning
	job.StartTime = time.Now()
	e.saveJobLocked(job)
	e.mu.Unlock()

	logger.Debugf("Started %s job %s for %s", job.Kind, job.ID, job.Token)

	e.finishJob(job, e.safeRun(task))
}

func (e *Engine) finishJob(job *common.Job, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job.Status = statusFor(err)
	job.EndTime = time.Now()
	if err != nil {
		job.Error = err.Error()
	}
	e.saveJobLocked(job)
	delete(e.jobs, job.ID)

	switch job.Status {
	case common.StatusCompleted:
		logger.Infof("%s job %s finished in %s", job.Kind, job.Token, job.Duration().Round(time.Millisecond))
	case common.StatusRejected, common.StatusCancelled:
		logger.Warnf("%s job %s %s: %v", job.Kind, job.Token, job.Status, err)
	default:
		logger.Errorf("%s job %s failed: %v", job.Kind, job.Token, err)
	}
}

// safeRun keeps a panicking task from taking the process down
func (e *Engine) safeRun(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("recovered panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()

	return fn(e.ctx)
}

func (e *Engine) acquireSlot() bool {
	if e.slots == nil {
		return e.ctx.Err() == nil
	}

	select {
	case e.slots <- struct{}{}:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *Engine) releaseSlot() {
	if e.slots != nil {
		<-e.slots
	}
}

func (e *Engine) saveJobLocked(job *common.Job) {
	if err := e.repository.Save(job); err != nil {
		logger.Warnf("Failed to save job %s: %v", job.ID, err)
	}
}

// Shutdown cancels all tasks and waits for them to return
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	logger.Infof("Starting engine shutdown...")

	e.cancelFunc()

	waitChan := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waitChan)
	}()

	timeout := e.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}

	select {
	case <-waitChan:
		logger.Infof("All tasks completed gracefully")
	case <-time.After(timeout):
		logger.Warnf("Shutdown timed out, some tasks may not have completed")
		return ErrShutdownTimeout
	}

	logger.Infof("Engine shutdown complete")
	return nil
}
