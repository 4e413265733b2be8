package pipeline

import (
	"log/slog"
	"maps"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
)

// CleanReport summarizes one cleaning run.
type CleanReport struct {
	RowsRead int64                         `json:"rows_read"`
	RowsKept int64                         `json:"rows_kept"`
	Rejected map[domain.RejectReason]int64 `json:"rejected"`
}

// RowsRejected is the total across all reasons.
func (r CleanReport) RowsRejected() int64 {
	var n int64
	for _, c := range r.Rejected {
		n += c
	}
	return n
}

// cleaner applies domain cleaning to raw batches and tallies what it drops.
type cleaner struct {
	window domain.Window
	logger *slog.Logger
	report CleanReport
}

func newCleaner(window domain.Window, logger *slog.Logger) *cleaner {
	return &cleaner{
		window: window,
		logger: logger,
		report: CleanReport{Rejected: make(map[domain.RejectReason]int64)},
	}
}

// Transform returns the kept rows of one raw batch.
func (c *cleaner) Transform(raws []domain.RawEvent) []domain.CleanEvent {
	out := make([]domain.CleanEvent, 0, len(raws))
	for _, raw := range raws {
		c.report.RowsRead++
		event, reason := domain.CleanRawEvent(raw, c.window)
		if reason != domain.RejectNone {
			c.report.Rejected[reason]++
			c.logger.Debug("row rejected", "event_id", raw.EventID, "reason", reason)
			continue
		}
		out = append(out, event)
	}
	c.report.RowsKept += int64(len(out))
	return out
}

// Report returns a copy of the tallies so far.
func (c *cleaner) Report() CleanReport {
	r := c.report
	r.Rejected = maps.Clone(c.report.Rejected)
	return r
}
