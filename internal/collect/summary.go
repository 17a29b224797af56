package collect

import (
	"time"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/dispatch"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/window"
)

// Process exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitFatal  = 2
)

// RunSummary is the outcome of one request.
type RunSummary struct {
	RunID  string                `json:"run_id"`
	Key    registry.Key          `json:"key"`
	Window *window.RequestWindow `json:"window,omitempty"`

	Results []dispatch.FetchResult `json:"-"`

	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Bytes     int64         `json:"bytes"`
	Duration  time.Duration `json:"duration_ns"`
	Manifest  string        `json:"manifest,omitempty"`

	// Published lists object keys uploaded after the run, if any.
	Published []string `json:"published,omitempty"`
}

func (s *RunSummary) add(results []dispatch.FetchResult) {
	s.Results = results
	for _, r := range results {
		s.Bytes += r.Bytes
		switch {
		case r.Status > 0 || r.Err != nil:
			s.Failed++
		case r.Skipped:
			s.Skipped++
		default:
			s.Succeeded++
		}
	}
}

// ExitCode is 0 when every task succeeded, 1 when any failed.
func (s *RunSummary) ExitCode() int {
	if s.Failed > 0 {
		return ExitFailed
	}
	return ExitOK
}

// ExitCode maps the result of Collector.Run to the process exit code: 2 for
// a fatal error, otherwise the summary's code.
func ExitCode(s *RunSummary, err error) int {
	if err != nil {
		return ExitFatal
	}
	if s == nil {
		return ExitOK
	}
	return s.ExitCode()
}
