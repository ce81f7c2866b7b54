package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	SignalSectionFallback       = "section_fallback"
	SignalVerificationAmbiguous = "verification_ambiguous"
	SignalResidualBannedWords   = "residual_banned_words"
	SignalRequirementsMissing   = "requirements_missing"
	SignalChunkFailed           = "chunk_failed"
	SignalMetadataIncomplete    = "metadata_incomplete"
)

type ReportSignal struct {
	Code     string  `json:"code"`
	Stage    string  `json:"stage"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
	Value    float64 `json:"value,omitempty"`
}

type StageMetric struct {
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	StartedAt  string             `json:"started_at"`
	FinishedAt string             `json:"finished_at"`
	DurationMS int64              `json:"duration_ms"`
	Counters   map[string]float64 `json:"counters,omitempty"`
	Notes      []string           `json:"notes,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type ChunkMetric struct {
	Ordinal       int      `json:"ordinal"`
	Status        string   `json:"status"`
	SourceRunes   int      `json:"source_runes"`
	OutputRunes   int      `json:"output_runes"`
	Discrepancies int      `json:"discrepancies"`
	Ambiguous     bool     `json:"ambiguous,omitempty"`
	Cached        bool     `json:"cached,omitempty"`
	Issues        []string `json:"issues,omitempty"`
	Error         string   `json:"error,omitempty"`
}

type ReportSummary struct {
	StageCount        int            `json:"stage_count"`
	ChunkCount        int            `json:"chunk_count"`
	FailedStages      int            `json:"failed_stages"`
	FailedChunks      int            `json:"failed_chunks"`
	RepairedChunks    int            `json:"repaired_chunks"`
	SignalsBySeverity map[string]int `json:"signals_by_severity"`
}

// Report is the machine-readable account of one run.
type Report struct {
	Version     string         `json:"version"`
	RunID       string         `json:"run_id"`
	Source      string         `json:"source"`
	GeneratedAt string         `json:"generated_at"`
	Stages      []StageMetric  `json:"stages"`
	Chunks      []ChunkMetric  `json:"chunks,omitempty"`
	Signals     []ReportSignal `json:"signals,omitempty"`
	Summary     ReportSummary  `json:"summary"`
	ErrorKind   Kind           `json:"error_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type StageHandle struct {
	name    string
	started time.Time
}

func NewReport(runID, source string) *Report {
	return &Report{
		Version:     "v1",
		RunID:       runID,
		Source:      source,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Stages:      []StageMetric{},
		Chunks:      []ChunkMetric{},
		Signals:     []ReportSignal{},
	}
}

func (r *Report) BeginStage(name string) StageHandle {
	return StageHandle{name: strings.TrimSpace(name), started: time.Now().UTC()}
}

func (r *Report) EndStage(h StageHandle, status string, counters map[string]float64, notes []string, err error) {
	if r == nil || strings.TrimSpace(h.name) == "" {
		return
	}
	if strings.TrimSpace(status) == "" {
		status = "ok"
	}
	finished := time.Now().UTC()
	m := StageMetric{
		Name:       h.name,
		Status:     status,
		StartedAt:  h.started.Format(time.RFC3339Nano),
		FinishedAt: finished.Format(time.RFC3339Nano),
		DurationMS: finished.Sub(h.started).Milliseconds(),
		Counters:   cleanCounters(counters),
		Notes:      cleanNotes(notes),
	}
	if err != nil {
		m.Error = err.Error()
		if status == "ok" {
			m.Status = "error"
		}
	}
	r.Stages = append(r.Stages, m)
}

func (r *Report) AddSignal(code, stage, severity, message string, value float64) {
	if r == nil {
		return
	}
	s := ReportSignal{
		Code:     strings.TrimSpace(code),
		Stage:    strings.TrimSpace(stage),
		Severity: strings.ToLower(strings.TrimSpace(severity)),
		Message:  strings.TrimSpace(message),
		Value:    value,
	}
	if s.Code == "" || s.Stage == "" || s.Severity == "" || s.Message == "" {
		return
	}
	r.Signals = append(r.Signals, s)
}

// HasSignal reports whether a signal with code was raised.
func (r *Report) HasSignal(code string) bool {
	if r == nil {
		return false
	}
	for _, s := range r.Signals {
		if s.Code == code {
			return true
		}
	}
	return false
}

// SignalCodes returns the distinct signal codes in report order.
func (r *Report) SignalCodes() []string {
	if r == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range r.Signals {
		if !seen[s.Code] {
			seen[s.Code] = true
			out = append(out, s.Code)
		}
	}
	return out
}

func (r *Report) AddChunkMetric(m ChunkMetric) {
	if r == nil {
		return
	}
	r.Chunks = append(r.Chunks, m)
}

func (r *Report) Finalize() {
	if r == nil {
		return
	}
	r.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	severityCount := map[string]int{
		"critical": 0,
		"warning":  0,
		"info":     0,
	}
	sort.SliceStable(r.Signals, func(i, j int) bool {
		pi := signalPriority(r.Signals[i].Severity)
		pj := signalPriority(r.Signals[j].Severity)
		if pi == pj {
			if r.Signals[i].Stage == r.Signals[j].Stage {
				return r.Signals[i].Code < r.Signals[j].Code
			}
			return r.Signals[i].Stage < r.Signals[j].Stage
		}
		return pi > pj
	})
	for _, s := range r.Signals {
		severityCount[s.Severity]++
	}
	sort.Slice(r.Chunks, func(i, j int) bool { return r.Chunks[i].Ordinal < r.Chunks[j].Ordinal })

	failed := 0
	for _, st := range r.Stages {
		if st.Status != "ok" && st.Status != "skipped" {
			failed++
		}
	}
	failedChunks, repaired := 0, 0
	for _, c := range r.Chunks {
		switch {
		case c.Error != "":
			failedChunks++
		case c.Status == "repaired":
			repaired++
		}
	}

	r.Summary = ReportSummary{
		StageCount:        len(r.Stages),
		ChunkCount:        len(r.Chunks),
		FailedStages:      failed,
		FailedChunks:      failedChunks,
		RepairedChunks:    repaired,
		SignalsBySeverity: severityCount,
	}
}

// JSON finalizes the report and encodes it indented.
func (r *Report) JSON() ([]byte, error) {
	r.Finalize()
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (r *Report) Save(path string) error {
	if r == nil {
		return nil
	}
	data, err := r.JSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func cleanCounters(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cleanNotes(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, n := range raw {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func signalPriority(severity string) int {
	switch severity {
	case "critical":
		return 3
	case "warning":
		return 2
	default:
		return 1
	}
}
