package rewrite

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/islentev/report-generator/internal/llm"
	"github.com/islentev/report-generator/internal/section"
)

func TestMain(m *testing.M) {
	// opencensus, pulled in by the Gemini SDK, starts its worker in init
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func chunks(n int) []section.Chunk {
	out := make([]section.Chunk, n)
	for i := range out {
		out[i] = section.Chunk{Ordinal: i, Text: fmt.Sprintf("chunk-%d", i)}
	}
	return out
}

// echoClient returns the source chunk name as the draft after a random delay.
func echoClient(maxDelay time.Duration) llm.ClientFunc {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(1))
	return func(ctx context.Context, req llm.Request) (string, error) {
		mu.Lock()
		d := time.Duration(rng.Int63n(int64(maxDelay)))
		mu.Unlock()
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if strings.HasPrefix(req.System, "Ты контролер") {
			return zeroToken, nil
		}
		i := strings.Index(req.User, "chunk-")
		return "report " + req.User[i:], nil
	}
}

func TestProcessAll_PreservesOrder(t *testing.T) {
	p := newTestProcessor(t, echoClient(5*time.Millisecond), nil)

	var calls atomic.Int32
	batch := p.ProcessAll(context.Background(), chunks(12), 4, func(done, total int, _ Outcome) {
		calls.Add(1)
		assert.Equal(t, 12, total)
		assert.LessOrEqual(t, done, total)
	})
	require.NoError(t, batch.Err())
	require.Len(t, batch.Outcomes, 12)
	for i, o := range batch.Outcomes {
		assert.Equal(t, i, o.Result.Ordinal)
		assert.Equal(t, fmt.Sprintf("report chunk-%d", i), o.Result.Text)
	}
	assert.EqualValues(t, 12, calls.Load())
	assert.True(t, strings.HasPrefix(batch.Text(), "report chunk-0\n\nreport chunk-1\n\n"))
}

func TestProcessAll_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	c := llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		if strings.HasPrefix(req.System, "Ты контролер") {
			return zeroToken, nil
		}
		return "ok", nil
	})
	p := newTestProcessor(t, c, nil)

	batch := p.ProcessAll(context.Background(), chunks(10), 3, nil)
	require.NoError(t, batch.Err())
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestProcessAll_FailureIsIsolated(t *testing.T) {
	boom := errors.New("service down")
	c := llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if strings.Contains(req.User, "chunk-2") {
			return "", boom
		}
		if strings.HasPrefix(req.System, "Ты контролер") {
			return zeroToken, nil
		}
		return "ok", nil
	})
	p := newTestProcessor(t, c, nil)

	batch := p.ProcessAll(context.Background(), chunks(5), 2, nil)
	require.Error(t, batch.Err())
	assert.ErrorIs(t, batch.Err(), boom)
	assert.Equal(t, []int{2}, batch.Failed())
	assert.Len(t, batch.Results(), 4)
	for i, o := range batch.Outcomes {
		if i == 2 {
			continue
		}
		assert.NoError(t, o.Err)
		assert.Equal(t, "ok", o.Result.Text)
	}
}

func TestProcessAll_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &scriptedClient{}
	p := newTestProcessor(t, c, nil)
	batch := p.ProcessAll(ctx, chunks(3), 2, nil)

	assert.ErrorIs(t, batch.Err(), context.Canceled)
	assert.Len(t, batch.Failed(), 3)
	assert.EqualValues(t, 0, c.generates.Load())
}

func TestProcessAll_Empty(t *testing.T) {
	p := newTestProcessor(t, &scriptedClient{}, nil)
	batch := p.ProcessAll(context.Background(), nil, 0, nil)
	assert.NoError(t, batch.Err())
	assert.Empty(t, batch.Outcomes)
	assert.Equal(t, "", batch.Text())
}
