// Package summary regenerates the project snapshot document (context.md).
// The snapshot is derived state: deterministic given the database, rewritten
// whole after each mutation, and never read back by the engine.
package summary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/filigree-dev/filigree/internal/debug"
	"github.com/filigree-dev/filigree/internal/engine"
	"github.com/filigree-dev/filigree/internal/types"
)

// Generator writes the snapshot document for one project
type Generator struct {
	engine *engine.Engine
	path   string
	topN   int
}

// New builds a generator that writes to the given path
func New(eng *engine.Engine, path string) *Generator {
	return &Generator{engine: eng, path: path, topN: 10}
}

// Refresh regenerates the snapshot. The write is atomic: a temp file in the
// same directory is renamed over the target, so readers never see a partial
// document.
func (g *Generator) Refresh(ctx context.Context) error {
	doc, err := g.render(ctx)
	if err != nil {
		return err
	}

	dir := filepath.Dir(g.path)
	tmp, err := os.CreateTemp(dir, ".context-*.md")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(doc); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, g.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// RefreshQuiet regenerates the snapshot, logging failures instead of
// returning them. Mutations must never fail because the snapshot could not
// be written.
func (g *Generator) RefreshQuiet(ctx context.Context) {
	if err := g.Refresh(ctx); err != nil {
		debug.Logf("summary: refresh failed: %v", err)
	}
}

func (g *Generator) render(ctx context.Context) (string, error) {
	stats, err := g.engine.GetStatistics(ctx)
	if err != nil {
		return "", err
	}
	ready, err := g.engine.GetReadyWork(ctx, types.WorkFilter{Limit: g.topN})
	if err != nil {
		return "", err
	}
	inProgress, err := g.engine.ListIssues(ctx, types.IssueFilter{
		Category: types.CategoryWIP, Limit: g.topN,
	})
	if err != nil {
		return "", err
	}
	recent, err := g.engine.GetRecentEvents(ctx, g.topN)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# Project Snapshot\n\n")
	fmt.Fprintf(&b, "_Generated %s. Derived from the database; do not edit._\n\n",
		time.Now().UTC().Format("2006-01-02 15:04 UTC"))

	b.WriteString("## Vitals\n\n")
	fmt.Fprintf(&b, "| Total | Open | In progress | Done | Ready | Blocked |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | %d |\n\n",
		stats.Total,
		stats.ByCategory[string(types.CategoryOpen)],
		stats.ByCategory[string(types.CategoryWIP)],
		stats.ByCategory[string(types.CategoryDone)],
		stats.Ready, stats.Blocked)

	b.WriteString("## Ready queue\n\n")
	if len(ready) == 0 {
		b.WriteString("Nothing is ready. Check `blocked` for what is stuck.\n\n")
	} else {
		for _, issue := range ready {
			fmt.Fprintf(&b, "- **%s** [P%d %s] %s\n", issue.ID, issue.Priority, issue.IssueType, issue.Title)
		}
		b.WriteString("\n")
	}

	b.WriteString("## In progress\n\n")
	if len(inProgress) == 0 {
		b.WriteString("Nothing in progress.\n\n")
	} else {
		for _, issue := range inProgress {
			assignee := issue.Assignee
			if assignee == "" {
				assignee = "unassigned"
			}
			fmt.Fprintf(&b, "- **%s** (%s) %s\n", issue.ID, assignee, issue.Title)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recent changes\n\n")
	if len(recent) == 0 {
		b.WriteString("No activity yet.\n")
	} else {
		for _, ev := range recent {
			fmt.Fprintf(&b, "- %s %s %s by %s\n",
				ev.CreatedAt.UTC().Format("01-02 15:04"), ev.IssueID, ev.EventType, ev.Actor)
		}
	}
	return b.String(), nil
}
