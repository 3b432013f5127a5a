package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Pipeline state, observable through State().
type PipelineState int32

const (
	Running PipelineState = iota
	ShutdownRequested
	Draining
	Stopped
)

func (s PipelineState) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case ShutdownRequested:
		return "SHUTDOWN_REQUESTED"
	case Draining:
		return "DRAINING"
	case Stopped:
		return "STOPPED"
	}
	return fmt.Sprintf("PipelineState(%d)", int32(s))
}

// DefaultQueueDepth bounds the snapshot queue. The bound converts a
// potential memory leak under a stalled disk into a counted drop.
const DefaultQueueDepth = 64

// Pipeline is the async checkpoint writer: SaveAsync never blocks the
// caller, a single worker drains the queue in FIFO order, and Shutdown
// drains then performs one final blocking save.
type Pipeline struct {
	mu      sync.Mutex
	state   PipelineState
	queue   chan Snapshot
	path    string
	log     *logrus.Logger
	drops   int
	writes  int
	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once
	downErr error
}

func NewPipeline(path string, depth int, log *logrus.Logger) *Pipeline {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Pipeline{
		queue:   make(chan Snapshot, depth),
		path:    path,
		log:     log,
		stopped: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for snap := range p.queue {
		if err := Write(p.path, snap); err != nil {
			// Log and move on: a dead worker would hang every later drain.
			p.log.WithError(err).Error("checkpoint write failed")
			continue
		}
		p.mu.Lock()
		p.writes++
		p.mu.Unlock()
	}
}

// SaveAsync enqueues a snapshot without blocking. When the queue is full
// the oldest pending snapshot is dropped and counted; the newest state
// always gets in.
func (p *Pipeline) SaveAsync(snap Snapshot) {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return
	}
	for {
		select {
		case p.queue <- snap:
			p.mu.Unlock()
			return
		default:
		}
		select {
		case <-p.queue:
			p.drops++
			p.log.Warn("checkpoint queue full, dropped oldest pending snapshot")
		default:
		}
	}
}

// SaveNow writes a snapshot synchronously, bypassing the queue. Used for
// the final save during shutdown.
func (p *Pipeline) SaveNow(snap Snapshot) error {
	return Write(p.path, snap)
}

// Shutdown is idempotent: it stops accepting new snapshots, drains the
// queue, then performs one final blocking save of `final` (if non-nil).
// A second call returns immediately with the first call's outcome.
func (p *Pipeline) Shutdown(ctx context.Context, final *Snapshot) error {
	p.once.Do(func() {
		var err error

		p.mu.Lock()
		p.state = ShutdownRequested
		p.mu.Unlock()

		p.mu.Lock()
		p.state = Draining
		p.mu.Unlock()
		close(p.queue)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("checkpoint: drain interrupted: %w", ctx.Err())
		}

		if err == nil && final != nil {
			if werr := p.SaveNow(*final); werr != nil {
				err = fmt.Errorf("checkpoint: final save: %w", werr)
			}
		}

		p.mu.Lock()
		p.state = Stopped
		p.downErr = err
		p.mu.Unlock()
		close(p.stopped)
	})

	// Later callers wait for the first shutdown to finish and share its
	// outcome.
	select {
	case <-p.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.downErr
}

func (p *Pipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Drops reports snapshots discarded because the queue was full.
func (p *Pipeline) Drops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drops
}

// Writes reports snapshots successfully written by the worker.
func (p *Pipeline) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// QueueDepth reports the number of snapshots waiting for the worker.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}
