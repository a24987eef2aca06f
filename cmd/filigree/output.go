package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/types"
)

// emit prints v as indented JSON when --json is set and returns true.
func emit(v any) bool {
	if !jsonOutput {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
	return true
}

func printIssueLine(issue *types.Issue) {
	id := issue.ID
	status := issue.Status
	if shouldUseColor() {
		id = idStyle.Render(id)
		switch issue.Category {
		case types.CategoryDone:
			status = passStyle.Render(status)
		case types.CategoryWIP:
			status = warnStyle.Render(status)
		default:
			status = mutedStyle.Render(status)
		}
	}
	assignee := ""
	if issue.Assignee != "" {
		assignee = " @" + issue.Assignee
	}
	fmt.Printf("%s  P%d %-12s %s%s\n", id, issue.Priority, status, truncate(issue.Title, 70), assignee)
}

func printIssueList(issues []*types.Issue) {
	if len(issues) == 0 {
		fmt.Println(muted("no issues"))
		return
	}
	for _, issue := range issues {
		printIssueLine(issue)
	}
}

func printIssueDetail(issue *types.Issue) {
	fmt.Printf("%s %s\n", header(issue.ID), issue.Title)
	fmt.Printf("  type: %s  status: %s  priority: P%d\n", issue.IssueType, issue.Status, issue.Priority)
	if issue.Assignee != "" {
		fmt.Printf("  assignee: %s\n", issue.Assignee)
	}
	if issue.ParentID != "" {
		fmt.Printf("  parent: %s\n", issue.ParentID)
	}
	if len(issue.Labels) > 0 {
		fmt.Printf("  labels: %s\n", strings.Join(issue.Labels, ", "))
	}
	fmt.Printf("  created: %s  updated: %s\n",
		idgen.FormatTime(issue.CreatedAt), idgen.FormatTime(issue.UpdatedAt))
	if issue.ClosedAt != nil {
		fmt.Printf("  closed: %s\n", idgen.FormatTime(*issue.ClosedAt))
	}
	if len(issue.Fields) > 0 {
		fmt.Println("  fields:")
		for k, v := range issue.Fields {
			fmt.Printf("    %s: %v\n", k, v)
		}
	}
	if issue.Description != "" {
		fmt.Println()
		fmt.Print(renderMarkdown(issue.Description))
	}
	if issue.Notes != "" {
		fmt.Println(muted("notes:"))
		fmt.Print(renderMarkdown(issue.Notes))
	}
}

func printEvents(events []*types.Event) {
	if len(events) == 0 {
		fmt.Println(muted("no events"))
		return
	}
	for _, ev := range events {
		detail := ""
		if ev.OldValue != nil || ev.NewValue != nil {
			detail = fmt.Sprintf(" %s -> %s", strDeref(ev.OldValue), strDeref(ev.NewValue))
		}
		fmt.Printf("%s  %-18s %s by %s%s\n",
			muted(idgen.FormatTime(ev.CreatedAt)), ev.EventType, ev.IssueID, ev.Actor, detail)
	}
}

func muted(s string) string {
	if shouldUseColor() {
		return mutedStyle.Render(s)
	}
	return s
}

func header(s string) string {
	if shouldUseColor() {
		return headerStyle.Render(s)
	}
	return s
}

func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return "..."
	}
	return string(runes[:maxLen-3]) + "..."
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
