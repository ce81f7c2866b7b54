package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/islentev/report-generator/internal/section"
)

// Outcome is the per-chunk slot of a batch. Exactly one of Result/Err is
// meaningful.
type Outcome struct {
	Result Result
	Err    error
}

// Batch holds outcomes indexed by chunk ordinal, whatever order the chunks
// finished in.
type Batch struct {
	Outcomes []Outcome
}

// Err joins every chunk failure, or returns nil when all chunks succeeded.
func (b Batch) Err() error {
	var errs []error
	for _, o := range b.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// Failed lists the ordinals whose rewrite failed.
func (b Batch) Failed() []int {
	var out []int
	for i, o := range b.Outcomes {
		if o.Err != nil {
			out = append(out, i)
		}
	}
	return out
}

// Results returns the successful results in ordinal order.
func (b Batch) Results() []Result {
	out := make([]Result, 0, len(b.Outcomes))
	for _, o := range b.Outcomes {
		if o.Err == nil {
			out = append(out, o.Result)
		}
	}
	return out
}

// Text concatenates the successful results in ordinal order, separated by a
// blank line so every chunk renders as its own paragraph.
func (b Batch) Text() string {
	parts := make([]string, 0, len(b.Outcomes))
	for _, r := range b.Results() {
		if t := strings.TrimSpace(r.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ProgressFunc is told about every finished chunk.
type ProgressFunc func(done, total int, o Outcome)

// ProcessAll rewrites chunks with at most concurrency calls in flight. A
// failing chunk records its error in its own slot and leaves the others
// running; only caller cancellation stops the batch early.
func (p *Processor) ProcessAll(ctx context.Context, chunks []section.Chunk, concurrency int, progress ProgressFunc) Batch {
	if concurrency <= 0 {
		concurrency = 1
	}
	batch := Batch{Outcomes: make([]Outcome, len(chunks))}

	var (
		mu   sync.Mutex
		done int
	)
	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			var o Outcome
			if err := ctx.Err(); err != nil {
				o.Err = fmt.Errorf("chunk %d: %w", c.Ordinal, err)
			} else {
				o.Result, o.Err = p.Process(ctx, c)
			}
			batch.Outcomes[i] = o

			mu.Lock()
			done++
			n := done
			if progress != nil {
				progress(n, len(chunks), o)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return batch
}
