package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filigree-dev/filigree/internal/types"
)

func TestCanonicalPath(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
		ok   bool
	}{
		{"src/main.go", "src/main.go", true},
		{"./src/main.go", "src/main.go", true},
		{"src//nested/../main.go", "src/main.go", true},
		{`src\win\style.go`, "src/win/style.go", true},
		{"/etc/passwd", "", false},
		{"../outside.go", "", false},
		{"a/../../outside.go", "", false},
		{"C:/windows/system32", "", false},
		{"", "", false},
		{".", "", false},
	} {
		got, err := canonicalPath(tc.in)
		if tc.ok {
			require.NoError(t, err, "path %q", tc.in)
			assert.Equal(t, tc.want, got)
		} else {
			require.Error(t, err, "path %q", tc.in)
			assert.Equal(t, CodeInvalidPath, CodeOf(err))
		}
	}
}

func TestRegisterFileIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	meta := map[string]any{"owner": "core", "loc": 120}
	first, err := e.RegisterFile(ctx, "src/a.py", "python", "source", meta)
	require.NoError(t, err)

	second, err := e.RegisterFile(ctx, "./src/a.py", "python", "source", map[string]any{"loc": 120, "owner": "core"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Identical registration twice emits at most one metadata event.
	entries, err := e.GetFileTimeline(ctx, first.ID, types.TimelineFileMetadata, 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProcessScanResultsDedup(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	payload := []types.IncomingFinding{
		{Path: "a.py", RuleID: "E1", Severity: "low", Message: "m"},
	}
	first, err := e.ProcessScanResults(ctx, "ruff", payload, "scanner")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 0, first.Updated)

	second, err := e.ProcessScanResults(ctx, "ruff", payload, "scanner")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Updated)
	assert.NotEqual(t, first.ScanRunID, second.ScanRunID)

	file, err := e.GetFileByPath(ctx, "a.py")
	require.NoError(t, err)
	findings, err := e.GetFindings(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, 2, findings[0].SeenCount)
}

func TestIngestDoesNotMarkStale(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ProcessScanResults(ctx, "ruff", []types.IncomingFinding{
		{Path: "a.py", RuleID: "E1", Severity: "low", Message: "m"},
		{Path: "a.py", RuleID: "E2", Severity: "high", Message: "n"},
	}, "scanner")
	require.NoError(t, err)

	// A partial re-lint of one rule must not touch the others; staleness
	// only happens when the caller asks for it.
	result, err := e.ProcessScanResults(ctx, "ruff", []types.IncomingFinding{
		{Path: "a.py", RuleID: "E1", Severity: "low", Message: "m"},
	}, "scanner")
	require.NoError(t, err)

	file, err := e.GetFileByPath(ctx, "a.py")
	require.NoError(t, err)
	findings, err := e.GetFindings(ctx, file.ID)
	require.NoError(t, err)
	byRule := map[string]string{}
	for _, f := range findings {
		byRule[f.RuleID] = f.Status
	}
	assert.Equal(t, types.FindingOpen, byRule["E1"])
	assert.Equal(t, types.FindingOpen, byRule["E2"])

	// The caller vouches for the run's completeness; now E2 goes unseen.
	stale, err := e.CleanStaleFindings(ctx, "ruff", result.ScanRunID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stale)

	findings, err = e.GetFindings(ctx, file.ID)
	require.NoError(t, err)
	for _, f := range findings {
		byRule[f.RuleID] = f.Status
	}
	assert.Equal(t, types.FindingOpen, byRule["E1"])
	assert.Equal(t, types.FindingUnseen, byRule["E2"])
}

func TestReingestReopensFixedFinding(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ProcessScanResults(ctx, "ruff", []types.IncomingFinding{
		{Path: "a.py", RuleID: "E1", Severity: "low", Message: "m"},
	}, "scanner")
	require.NoError(t, err)

	file, err := e.GetFileByPath(ctx, "a.py")
	require.NoError(t, err)
	findings, err := e.GetFindings(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	_, err = e.UpdateFindingStatus(ctx, findings[0].ID, types.FindingFixed)
	require.NoError(t, err)

	// The scanner still sees it, so the fix did not take.
	_, err = e.ProcessScanResults(ctx, "ruff", []types.IncomingFinding{
		{Path: "a.py", RuleID: "E1", Severity: "low", Message: "m"},
	}, "scanner")
	require.NoError(t, err)

	findings, err = e.GetFindings(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, types.FindingOpen, findings[0].Status)
}

func TestProcessScanResultsValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ProcessScanResults(ctx, "", nil, "x")
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = e.ProcessScanResults(ctx, "ruff", []types.IncomingFinding{
		{Path: "a.py", RuleID: "E1", Severity: "apocalyptic", Message: "m"},
	}, "x")
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = e.ProcessScanResults(ctx, "ruff", []types.IncomingFinding{
		{Path: "/abs/a.py", RuleID: "E1", Severity: "low", Message: "m"},
	}, "x")
	assert.Equal(t, CodeValidation, CodeOf(err))
}

func TestAcknowledgedCountsAsActive(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ProcessScanResults(ctx, "ruff", []types.IncomingFinding{
		{Path: "a.py", RuleID: "E1", Severity: "low", Message: "m"},
	}, "scanner")
	require.NoError(t, err)
	_, err = e.ProcessScanResults(ctx, "ruff", []types.IncomingFinding{
		{Path: "a.py", RuleID: "E1", Severity: "low", Message: "m"},
	}, "scanner")
	require.NoError(t, err)

	file, err := e.GetFileByPath(ctx, "a.py")
	require.NoError(t, err)
	findings, err := e.GetFindings(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	_, err = e.UpdateFindingStatus(ctx, findings[0].ID, types.FindingAcknowledged)
	require.NoError(t, err)

	summaries, page, err := e.ListFiles(ctx, types.FileFilter{MinFindings: 1}, types.FileSort{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].Findings.Total)
}

func TestFileAssociationIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	file, err := e.RegisterFile(ctx, "src/a.go", "go", "source", nil)
	require.NoError(t, err)
	issue, _, err := e.CreateIssue(ctx, CreateRequest{Title: "bug here", IssueType: "bug"}, "alice")
	require.NoError(t, err)

	_, created, err := e.AddFileAssociation(ctx, file.ID, issue.ID, types.AssocBugIn)
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = e.AddFileAssociation(ctx, file.ID, issue.ID, types.AssocBugIn)
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = e.AddFileAssociation(ctx, file.ID, issue.ID, "made_up")
	assert.Equal(t, CodeValidation, CodeOf(err))
}

func TestTimelineUnknownKindIsEmpty(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	file, err := e.RegisterFile(ctx, "src/a.go", "go", "source", nil)
	require.NoError(t, err)

	entries, err := e.GetFileTimeline(ctx, file.ID, "bogus_kind", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
