// chatguard/pkg/action/executor_test.go

package action

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	effects []Effect
	fail    Kind
}

func (r *recorder) Dispatch(_ context.Context, e Effect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Kind == r.fail {
		return errors.New("boom")
	}
	r.effects = append(r.effects, e)
	return nil
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Kind
	for _, e := range r.effects {
		out = append(out, e.Kind)
	}
	return out
}

func TestExecutorSubmit(t *testing.T) {
	rec := &recorder{}
	x := NewExecutor(rec, 2)

	err := x.Submit(context.Background(),
		Effect{Kind: KindConsoleCommand, Text: "say hi"},
		Effect{Kind: KindDiscord, Target: "123", Text: "hello", Delay: 10 * time.Millisecond},
		Effect{Kind: KindTell, Target: "u1", Text: "careful"},
	)
	require.NoError(t, err)

	assert.Equal(t, []Kind{KindConsoleCommand, KindTell}, rec.kinds())

	require.NoError(t, x.Wait())
	assert.ElementsMatch(t, []Kind{KindConsoleCommand, KindTell, KindDiscord}, rec.kinds())
}

func TestExecutorInlineErrorDoesNotStopOthers(t *testing.T) {
	rec := &recorder{fail: KindKick}
	x := NewExecutor(rec, 1)

	err := x.Submit(context.Background(),
		Effect{Kind: KindKick, Target: "u1"},
		Effect{Kind: KindLog, Text: "logged"},
	)
	assert.Error(t, err)
	assert.Equal(t, []Kind{KindLog}, rec.kinds())
}

func TestExecutorDelayedEffectCancelled(t *testing.T) {
	rec := &recorder{}
	x := NewExecutor(rec, 1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, x.Submit(ctx, Effect{Kind: KindWarn, Text: "later", Delay: time.Hour}))
	cancel()
	require.NoError(t, x.Wait())
	assert.Empty(t, rec.kinds())
}

func TestMux(t *testing.T) {
	writes := &recorder{}
	rest := &recorder{}
	mux := &Mux{Routes: map[Kind]Dispatcher{KindWrite: writes}, Default: rest}

	require.NoError(t, mux.Dispatch(context.Background(), Effect{Kind: KindWrite}))
	require.NoError(t, mux.Dispatch(context.Background(), Effect{Kind: KindLog}))

	assert.Equal(t, []Kind{KindWrite}, writes.kinds())
	assert.Equal(t, []Kind{KindLog}, rest.kinds())
}

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	w := &FileWriter{Dir: dir}

	require.NoError(t, w.Dispatch(context.Background(), Effect{Kind: KindWrite, Target: "logs/ads.txt", Text: "first"}))
	require.NoError(t, w.Dispatch(context.Background(), Effect{Kind: KindWrite, Target: "../../logs/ads.txt", Text: "second"}))

	data, err := os.ReadFile(filepath.Join(dir, "logs", "ads.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestFilter(t *testing.T) {
	effects := []Effect{{Kind: KindWarn}, {Kind: KindLog}, {Kind: KindWarn}}
	assert.Len(t, Filter(effects, KindWarn), 2)
	assert.Empty(t, Filter(effects, KindKick))
}
