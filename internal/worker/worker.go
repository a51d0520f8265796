package worker

import "context"

type StartOptions[J any] struct {
	Ctx     context.Context
	Workers int
	Jobs    <-chan J
	Handle  func(context.Context, J)
}

// Start launches Workers goroutines draining Jobs until the context is
// canceled or the channel closes.
func Start[J any](opts StartOptions[J]) {
	n := opts.Workers
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go func() {
			for {
				select {
				case <-opts.Ctx.Done():
					return
				case job, ok := <-opts.Jobs:
					if !ok {
						return
					}
					opts.Handle(opts.Ctx, job)
				}
			}
		}()
	}
}

// Enqueue submits a job, giving up when the context ends first.
func Enqueue[J any](ctx context.Context, jobs chan<- J, job J) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case jobs <- job:
		return nil
	}
}
