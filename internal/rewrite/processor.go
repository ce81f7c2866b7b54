package rewrite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/islentev/report-generator/internal/llm"
	"github.com/islentev/report-generator/internal/section"
)

type Status string

const (
	StatusClean    Status = "clean"
	StatusRepaired Status = "repaired"
)

// Result is the final text for one chunk. It is never mutated after Process
// returns it.
type Result struct {
	Ordinal       int      `json:"ordinal"`
	Source        string   `json:"source"`
	Text          string   `json:"text"`
	Status        Status   `json:"status"`
	Discrepancies []string `json:"discrepancies,omitempty"`
	// Ambiguous is set when the checker answered with neither the zero-token
	// nor a recognizable list; the chunk was repaired anyway.
	Ambiguous bool     `json:"ambiguous,omitempty"`
	Issues    []string `json:"issues,omitempty"`
	Cached    bool     `json:"cached,omitempty"`
}

// Cache stores finished results by content key. Implementations must be safe
// for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Put(ctx context.Context, key string, r Result) error
}

// Processor runs the generate, verify, repair protocol for single chunks. It
// holds no per-chunk state and may be shared across goroutines.
type Processor struct {
	rewriter llm.Client
	verifier llm.Client
	prompts  PromptBuilder
	model    string
	cache    Cache
	logger   *zap.Logger
}

type Options struct {
	Rewriter  llm.Client
	Verifier  llm.Client // defaults to Rewriter
	Rules     StyleRules
	ZeroToken string
	// Temperature for generate and repair; 0 keeps the default.
	Temperature float64
	// Model only feeds the cache key, so a model switch never reuses results.
	Model  string
	Cache  Cache
	Logger *zap.Logger
}

func NewProcessor(opts Options) (*Processor, error) {
	if opts.Rewriter == nil {
		return nil, fmt.Errorf("rewriter client is required: %w", llm.ErrInvalidInput)
	}
	if strings.TrimSpace(opts.ZeroToken) == "" {
		return nil, fmt.Errorf("zero token is required: %w", llm.ErrInvalidInput)
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = opts.Rewriter
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		rewriter: opts.Rewriter,
		verifier: verifier,
		prompts:  PromptBuilder{Rules: opts.Rules, ZeroToken: opts.ZeroToken, Temperature: opts.Temperature},
		model:    opts.Model,
		cache:    opts.Cache,
		logger:   logger,
	}, nil
}

// Rules returns the style rules folded into every prompt.
func (p *Processor) Rules() StyleRules { return p.prompts.Rules }

// Process makes two calls when the draft verifies clean and three when it
// does not. The repair output is final; it is not verified again.
func (p *Processor) Process(ctx context.Context, chunk section.Chunk) (Result, error) {
	key := p.cacheKey(chunk.Text)
	if p.cache != nil {
		cached, ok, err := p.cache.Get(ctx, key)
		if err != nil {
			p.logger.Warn("rewrite cache lookup failed", zap.Int("chunk", chunk.Ordinal), zap.Error(err))
		} else if ok {
			cached.Ordinal = chunk.Ordinal
			cached.Cached = true
			return cached, nil
		}
	}

	start := time.Now()
	draft, err := p.rewriter.Call(ctx, p.prompts.Generate(chunk.Text))
	if err != nil {
		return Result{}, fmt.Errorf("chunk %d: generate: %w", chunk.Ordinal, err)
	}

	report, err := p.verifier.Call(ctx, p.prompts.Verify(chunk.Text, draft))
	if err != nil {
		return Result{}, fmt.Errorf("chunk %d: verify: %w", chunk.Ordinal, err)
	}

	res := Result{Ordinal: chunk.Ordinal, Source: chunk.Text}
	v := parseVerdict(report, p.prompts.ZeroToken)
	if v.clean {
		res.Text = strings.TrimSpace(draft)
		res.Status = StatusClean
	} else {
		fixed, err := p.rewriter.Call(ctx, p.prompts.Repair(chunk.Text, draft, strings.TrimSpace(report)))
		if err != nil {
			return Result{}, fmt.Errorf("chunk %d: repair: %w", chunk.Ordinal, err)
		}
		res.Text = strings.TrimSpace(fixed)
		res.Status = StatusRepaired
		res.Discrepancies = v.discrepancies
		res.Ambiguous = v.ambiguous
	}
	res.Issues = assessReport(res.Text, p.prompts.Rules.BannedWords)

	p.logger.Debug("chunk rewritten",
		zap.Int("chunk", chunk.Ordinal),
		zap.String("status", string(res.Status)),
		zap.Int("discrepancies", len(res.Discrepancies)),
		zap.Bool("ambiguous", res.Ambiguous),
		zap.Duration("took", time.Since(start)))

	if p.cache != nil {
		if err := p.cache.Put(ctx, key, res); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("rewrite cache store failed", zap.Int("chunk", chunk.Ordinal), zap.Error(err))
		}
	}
	return res, nil
}

func (p *Processor) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(p.model))
	h.Write([]byte{0})
	h.Write([]byte(p.prompts.ZeroToken))
	h.Write([]byte{0})
	h.Write([]byte(p.prompts.Rules.Fingerprint()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

type verdict struct {
	clean         bool
	ambiguous     bool
	discrepancies []string
}

var listItem = regexp.MustCompile(`^\s*(?:[-*•–—]|\d+[.)])\s+(\S.*)$`)

// parseVerdict only trusts the literal zero-token. Anything else, including
// an empty or unparseable answer, counts as discrepancies found.
func parseVerdict(report, zeroToken string) verdict {
	if containsToken(report, zeroToken) {
		return verdict{clean: true}
	}
	var items []string
	for _, line := range strings.Split(report, "\n") {
		if m := listItem.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	if len(items) > 0 {
		return verdict{discrepancies: items}
	}
	v := verdict{ambiguous: true}
	if s := strings.TrimSpace(report); s != "" {
		v.discrepancies = []string{s}
	}
	return v
}

// containsToken finds token not immediately followed by another digit, so
// "ERRORS: 0" does not match "ERRORS: 07".
func containsToken(s, token string) bool {
	for from := 0; ; {
		i := strings.Index(s[from:], token)
		if i < 0 {
			return false
		}
		end := from + i + len(token)
		next, _ := utf8.DecodeRuneInString(s[end:])
		if end == len(s) || !unicode.IsDigit(next) {
			return true
		}
		from = end
	}
}
