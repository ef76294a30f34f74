package execution

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
	"nbscenes/internal/scenes"
)

var (
	// ErrQueueClosed is returned by Submit after Close.
	ErrQueueClosed = errors.New("execution queue is closed")

	// ErrQueueFull is returned when the queue has no free slot.
	ErrQueueFull = errors.New("execution queue is full")
)

// Timing metadata keys written when timing is recorded.
const (
	TimingKey     = "execution"
	TimingStarted = "shell.execute_reply.started"
	TimingReply   = "shell.execute_reply"
)

// Status of a finished execution.
type Status string

const (
	StatusOK       Status = "ok"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

// Event describes one finished execution.
type Event struct {
	ID         string
	Session    string
	KernelID   string
	CellID     string
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time
	Err        string
}

type job struct {
	id      string
	cell    *notebook.Cell
	session *notebook.Session
	opts    scenes.ExecuteOptions
}

// Queue runs submitted cells one at a time in submission order.
type Queue struct {
	runner Runner

	mu       sync.RWMutex
	closed   bool
	jobs     chan job
	counts   map[string]int
	observer func(Event)

	pending sync.WaitGroup
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ scenes.Executor = (*Queue)(nil)

// NewQueue starts a queue holding up to size pending cells.
func NewQueue(runner Runner, size int) *Queue {
	if size <= 0 {
		size = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		runner: runner,
		jobs:   make(chan job, size),
		counts: make(map[string]int),
		ctx:    ctx,
		cancel: cancel,
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

// SetObserver registers fn to be called after every execution.
func (q *Queue) SetObserver(fn func(Event)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = fn
}

// Submit enqueues cell and returns immediately.
func (q *Queue) Submit(cell *notebook.Cell, session *notebook.Session, opts scenes.ExecuteOptions) error {
	if cell == nil || !cell.IsCode() {
		return errors.New("only code cells can be executed")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	j := job{id: uuid.NewString(), cell: cell, session: session, opts: opts}
	q.pending.Add(1)
	select {
	case q.jobs <- j:
		logging.ExecutionDebug("queued cell %s as %s", cell.Model().ID(), j.id)
		return nil
	default:
		q.pending.Done()
		return ErrQueueFull
	}
}

// Wait blocks until every submitted cell has finished.
func (q *Queue) Wait() {
	q.pending.Wait()
}

// Close stops accepting cells, cancels the running one, marks the rest as
// canceled and waits for the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.execute(j)
		q.pending.Done()
	}
}

func (q *Queue) execute(j job) {
	model := j.cell.Model()
	md := model.Metadata()
	event := Event{ID: j.id, CellID: model.ID(), StartedAt: time.Now()}
	if j.session != nil {
		event.Session = j.session.Name()
		if k := j.session.Kernel(); k != nil {
			event.KernelID = k.ID()
		}
	}

	if q.ctx.Err() != nil {
		event.Status = StatusCanceled
		event.FinishedAt = event.StartedAt
		q.notify(event)
		return
	}

	timer := logging.StartTimer(logging.CategoryExecution, "cell "+model.ID())
	model.ClearOutputs()
	if j.opts.RecordTiming {
		md.Set(TimingKey, map[string]any{TimingStarted: event.StartedAt.UTC().Format(time.RFC3339Nano)})
	}

	result, err := q.runner.Run(q.ctx, model.Source())
	event.FinishedAt = time.Now()
	timer.Stop()

	switch {
	case err != nil:
		event.Status = StatusError
		event.Err = err.Error()
		model.AppendOutput(errorOutput("RunnerError", err.Error(), nil))
		logging.Get(logging.CategoryExecution).Error("cell %s: %v", model.ID(), err)
	default:
		event.StartedAt, event.FinishedAt = result.StartedAt, result.FinishedAt
		q.writeResult(model, result)
		event.Status = StatusOK
		if result.Killed && errors.Is(q.ctx.Err(), context.Canceled) {
			event.Status = StatusCanceled
		} else if result.Failed() {
			event.Status = StatusError
			event.Err = failureText(result)
		}
	}

	model.SetExecutionCount(q.nextCount(event.KernelID))
	if j.opts.RecordTiming {
		md.Set(TimingKey, map[string]any{
			TimingStarted: event.StartedAt.UTC().Format(time.RFC3339Nano),
			TimingReply:   event.FinishedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	logging.Execution("cell %s finished: %s", model.ID(), event.Status)
	q.notify(event)
}

func (q *Queue) writeResult(model *notebook.CellModel, r *Result) {
	if r.Stdout != "" {
		model.AppendOutput(streamOutput("stdout", r.Stdout))
	}
	if !r.Failed() {
		if r.Stderr != "" {
			model.AppendOutput(streamOutput("stderr", r.Stderr))
		}
		return
	}
	model.AppendOutput(errorOutput("ProcessError", failureText(r), splitTraceback(r.Stderr)))
}

func (q *Queue) nextCount(kernelID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counts[kernelID]++
	return q.counts[kernelID]
}

func (q *Queue) notify(e Event) {
	q.mu.RLock()
	fn := q.observer
	q.mu.RUnlock()
	if fn != nil {
		fn(e)
	}
}

func failureText(r *Result) string {
	if r.Killed {
		return r.KillReason
	}
	return "exit status " + strconv.Itoa(r.ExitCode)
}

func streamOutput(name, text string) map[string]any {
	return map[string]any{
		"output_type": "stream",
		"name":        name,
		"text":        text,
	}
}

func errorOutput(ename, evalue string, traceback []string) map[string]any {
	if traceback == nil {
		traceback = []string{}
	}
	return map[string]any{
		"output_type": "error",
		"ename":       ename,
		"evalue":      evalue,
		"traceback":   traceback,
	}
}

func splitTraceback(stderr string) []string {
	stderr = strings.TrimRight(stderr, "\n")
	if stderr == "" {
		return nil
	}
	return strings.Split(stderr, "\n")
}
