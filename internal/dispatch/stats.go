package dispatch

import "sync/atomic"

// Stats are cheap in-process counters surfaced by the dispatcher's log line
// on shutdown; Prometheus carries the same signals for scraping.
type Stats struct {
	Ticks        atomic.Int64
	SkippedTicks atomic.Int64
	Claimed      atomic.Int64
	Finalized    atomic.Int64
	Sent         atomic.Int64
	Failed       atomic.Int64
}

func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"ticks":         s.Ticks.Load(),
		"skipped_ticks": s.SkippedTicks.Load(),
		"claimed":       s.Claimed.Load(),
		"finalized":     s.Finalized.Load(),
		"sent":          s.Sent.Load(),
		"failed":        s.Failed.Load(),
	}
}
