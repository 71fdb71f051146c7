// chatguard/pkg/action/executor.go

package action

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rgehrsitz/chatguard/pkg/logging"
)

// Executor delivers effects. Synchronous effects run inline; async and
// delayed ones run on a bounded worker group and their errors are only
// logged, never reported back to the evaluation that queued them.
type Executor struct {
	dispatcher Dispatcher
	group      errgroup.Group
}

func NewExecutor(dispatcher Dispatcher, workers int) *Executor {
	x := &Executor{dispatcher: dispatcher}
	if workers > 0 {
		x.group.SetLimit(workers)
	}
	return x
}

// Submit delivers effects in order. It returns the first error of an inline
// effect; the remaining inline effects still run.
func (x *Executor) Submit(ctx context.Context, effects ...Effect) error {
	var firstErr error
	for _, effect := range effects {
		if effect.Async() {
			x.spawn(ctx, effect)
			continue
		}
		if err := x.dispatcher.Dispatch(ctx, effect); err != nil {
			logging.Logger.Error().Err(err).Str("kind", string(effect.Kind)).Msg("Failed to dispatch effect")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (x *Executor) spawn(ctx context.Context, effect Effect) {
	x.group.Go(func() error {
		if effect.Delay > 0 {
			timer := time.NewTimer(effect.Delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil
			}
		}
		if err := x.dispatcher.Dispatch(ctx, effect); err != nil {
			logging.Logger.Warn().Err(err).Str("kind", string(effect.Kind)).Str("target", effect.Target).Msg("Async effect failed")
		}
		return nil
	})
}

// Wait blocks until every spawned effect has finished.
func (x *Executor) Wait() error {
	return x.group.Wait()
}

// FileWriter appends write effects to files under Dir, one line per effect.
type FileWriter struct {
	Dir string
	mu  sync.Mutex
}

func (w *FileWriter) Dispatch(_ context.Context, effect Effect) error {
	if effect.Kind != KindWrite {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.Dir, filepath.Clean("/"+effect.Target))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return logging.NewError(logging.ErrorTypeStore, "failed to create log directory", err, map[string]interface{}{"path": path})
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return logging.NewError(logging.ErrorTypeStore, "failed to open file", err, map[string]interface{}{"path": path})
	}
	defer file.Close()

	_, err = file.WriteString(effect.Text + "\n")
	return err
}
