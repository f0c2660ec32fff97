package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"archon/internal/logging"
)

// task is one unit of submitted work.
type task func(ctx context.Context)

// pool runs submitted tasks on a fixed set of workers. Submission never
// blocks the beats: when the queue is full the batch stays in its current
// state and the next beat picks it up again.
type pool struct {
	tasks  chan task
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newPool(workers int, logger *slog.Logger) *pool {
	if workers <= 0 {
		workers = 1
	}
	p := &pool{
		tasks:  make(chan task, workers*2),
		logger: logger,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work(i)
	}
	return p
}

func (p *pool) work(id int) {
	defer p.wg.Done()
	for fn := range p.tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("job panicked",
						logging.Int("worker", id),
						logging.Any("panic", r),
					)
				}
			}()
			fn(context.Background())
		}()
	}
}

// submit offers a task to the pool; it reports false when every worker is
// busy and the backlog is full.
func (p *pool) submit(fn task) bool {
	select {
	case p.tasks <- fn:
		return true
	default:
		return false
	}
}

// close stops accepting work and waits for running tasks to drain.
func (p *pool) close() {
	close(p.tasks)
	p.wg.Wait()
}
