package framework

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/golang/glog"
)

// ErrForcedExit is returned by Wait when a second stop signal arrived
// before all tasks stopped.
var ErrForcedExit = errors.New("forced exit")

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun wraps a Runnable with a name.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// TaskStatus reports one Runnable started by a Runner.
type TaskStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type task struct {
	name    string
	running bool
	err     error
}

// Runner runs Runnables as tasks sharing one context. The first task
// failing cancels the context.
type Runner struct {
	Context context.Context

	cancel context.CancelFunc
	tasks  []*task
	lock   sync.Mutex
	wg     sync.WaitGroup
	exitCh chan struct{}
}

// NewRunner creates a runner with a default background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner with a specified context.
func NewRunnerWith(ctx context.Context) *Runner {
	r := &Runner{exitCh: make(chan struct{})}
	r.Context, r.cancel = context.WithCancel(ctx)
	return r
}

// HandleSignals stops the runner on CtrlC or SIGTERM, and forces Wait to
// return on the second one.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Info("stop requested")
		r.cancel()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.exitCh)
	}()
	return r
}

// Go starts Runnables as tasks. Unnamed ones are named by their index.
func (r *Runner) Go(runners ...Runnable) *Runner {
	for _, runner := range runners {
		r.lock.Lock()
		t := &task{name: strconv.Itoa(len(r.tasks)), running: true}
		if named, ok := runner.(Named); ok {
			t.name = named.Name()
		}
		r.tasks = append(r.tasks, t)
		r.lock.Unlock()

		r.wg.Add(1)
		glog.V(4).Infof("start task %s", t.name)
		go r.run(t, runner)
	}
	return r
}

func (r *Runner) run(t *task, runner Runnable) {
	defer r.wg.Done()
	err := runner.Run(r.Context)
	if err == context.Canceled {
		err = nil
	}
	if err != nil {
		glog.Errorf("task %s failed: %v", t.name, err)
		r.cancel()
	}
	glog.V(4).Infof("task %s stopped", t.name)
	r.lock.Lock()
	t.running, t.err = false, err
	r.lock.Unlock()
}

// Tasks reports the tasks in start order.
func (r *Runner) Tasks() []TaskStatus {
	r.lock.Lock()
	defer r.lock.Unlock()
	statuses := make([]TaskStatus, len(r.tasks))
	for n, t := range r.tasks {
		statuses[n] = TaskStatus{Name: t.name, Running: t.running}
		if t.err != nil {
			statuses[n].Error = t.err.Error()
		}
	}
	return statuses
}

// Stop cancels the runner context.
func (r *Runner) Stop() {
	r.cancel()
}

// Wait waits until all tasks stop and aggregates their errors.
func (r *Runner) Wait() error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-r.exitCh:
		return ErrForcedExit
	case <-done:
	}
	var errs AggregatedError
	r.lock.Lock()
	for _, t := range r.tasks {
		errs.Add(t.err)
	}
	r.lock.Unlock()
	return errs.Aggregate()
}

// RunWithContextCancel runs fn which doesn't accept a context. onCancel is
// called when ctx is done and should make fn return.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case <-ctx.Done():
		if onCancel != nil {
			onCancel()
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// HTTPServer runs srv until the context is done.
func HTTPServer(srv *http.Server) Runnable {
	return NamedRun("http "+srv.Addr, RunFunc(func(ctx context.Context) error {
		glog.Infof("serving http on %s", srv.Addr)
		return RunWithContextCancel(ctx, func() { srv.Close() }, srv.ListenAndServe)
	}))
}
