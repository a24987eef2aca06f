package engine

import (
	"context"
	"time"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/types"
)

// FlowMetrics are derived from the event log over a trailing window
type FlowMetrics struct {
	WindowDays    int            `json:"window_days"`
	ClosedIssues  int            `json:"closed_issues"`
	CycleTimeAvg  time.Duration  `json:"cycle_time_avg"`
	LeadTimeAvg   time.Duration  `json:"lead_time_avg"`
	ThroughputDay map[string]int `json:"throughput_per_day"`
}

// GetFlowMetrics computes cycle time, lead time, and throughput from the
// event log. Cycle time runs from the first transition out of the initial
// state to the first entry into a done state; lead time from creation to the
// first done entry. Both average over issues closed inside the window.
func (e *Engine) GetFlowMetrics(ctx context.Context, windowDays int) (*FlowMetrics, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := idgen.Now().AddDate(0, 0, -windowDays)

	events, err := e.store.GetEventsSince(ctx, since, 0)
	if err != nil {
		return nil, wrap(err, "get events")
	}

	metrics := &FlowMetrics{WindowDays: windowDays, ThroughputDay: make(map[string]int)}

	// Issues closed in the window, keyed by id; per-issue timestamps are
	// pulled from the full per-issue history, which may start before the
	// window.
	closedIn := make(map[string]time.Time)
	for _, ev := range events {
		if ev.EventType == types.EventClosed {
			if _, seen := closedIn[ev.IssueID]; !seen {
				closedIn[ev.IssueID] = ev.CreatedAt
			}
			metrics.ThroughputDay[ev.CreatedAt.UTC().Format("2006-01-02")]++
		}
	}
	metrics.ClosedIssues = len(closedIn)
	if len(closedIn) == 0 {
		return metrics, nil
	}

	var cycleTotal, leadTotal time.Duration
	var cycleN, leadN int
	for issueID := range closedIn {
		history, err := e.store.GetIssueEvents(ctx, issueID, 0)
		if err != nil {
			return nil, wrap(err, "issue events")
		}
		// History comes newest first; walk oldest first.
		var created, firstMove, firstDone time.Time
		for i := len(history) - 1; i >= 0; i-- {
			ev := history[i]
			switch ev.EventType {
			case types.EventCreated:
				if created.IsZero() {
					created = ev.CreatedAt
				}
			case types.EventStatusChanged, types.EventClaimed:
				if firstMove.IsZero() {
					firstMove = ev.CreatedAt
				}
			case types.EventClosed:
				if firstDone.IsZero() {
					firstDone = ev.CreatedAt
				}
			}
		}
		if !firstMove.IsZero() && !firstDone.IsZero() && firstDone.After(firstMove) {
			cycleTotal += firstDone.Sub(firstMove)
			cycleN++
		}
		if !created.IsZero() && !firstDone.IsZero() {
			leadTotal += firstDone.Sub(created)
			leadN++
		}
	}
	if cycleN > 0 {
		metrics.CycleTimeAvg = cycleTotal / time.Duration(cycleN)
	}
	if leadN > 0 {
		metrics.LeadTimeAvg = leadTotal / time.Duration(leadN)
	}
	return metrics, nil
}

// GetStatistics summarizes the project for dashboards
func (e *Engine) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stats, err := e.store.GetStatistics(ctx)
	if err != nil {
		return nil, wrap(err, "statistics")
	}
	return stats, nil
}
