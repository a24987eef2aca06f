package sqlite

import (
	"context"
	"testing"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/types"
)

func registerFile(t *testing.T, store *Store, path string) *types.FileRecord {
	t.Helper()
	file := &types.FileRecord{
		ID:       idgen.NewFileID("test"),
		Path:     path,
		Language: "go",
	}
	if _, err := store.UpsertFileRecord(context.Background(), file); err != nil {
		t.Fatalf("UpsertFileRecord %s: %v", path, err)
	}
	return file
}

func incomingFinding(fileID, source, rule string, line *int) *types.Finding {
	return &types.Finding{
		ID:         idgen.NewFindingID("test"),
		FileID:     fileID,
		ScanSource: source,
		RuleID:     rule,
		Severity:   types.SeverityHigh,
		Message:    "something looks off",
		LineStart:  line,
		ScanRunID:  "run-1",
	}
}

func TestUpsertFileRecordChangeDetection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := &types.FileRecord{
		ID:       idgen.NewFileID("test"),
		Path:     "internal/sync/worker.go",
		Language: "go",
		Metadata: map[string]any{"owner": "platform"},
	}
	changed, err := store.UpsertFileRecord(ctx, file)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !changed {
		t.Error("first upsert reported no change")
	}

	// Same content re-registered: key order in metadata must not count.
	again := &types.FileRecord{
		ID:       idgen.NewFileID("test"),
		Path:     "internal/sync/worker.go",
		Language: "go",
		Metadata: map[string]any{"owner": "platform"},
	}
	changed, err = store.UpsertFileRecord(ctx, again)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if changed {
		t.Error("identical re-registration reported a change")
	}
	if again.ID != file.ID {
		t.Errorf("re-registration minted new id %s, want %s", again.ID, file.ID)
	}

	again.Metadata = map[string]any{"owner": "infra"}
	changed, err = store.UpsertFileRecord(ctx, again)
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if !changed {
		t.Error("metadata change not detected")
	}
}

func TestUpsertFindingDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := registerFile(t, store, "pkg/api/handler.go")
	line := 42

	f1 := incomingFinding(file.ID, "linter", "SA1000", &line)
	created, err := store.UpsertFinding(ctx, f1)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !created {
		t.Error("first upsert not reported as created")
	}

	f2 := incomingFinding(file.ID, "linter", "SA1000", &line)
	f2.Message = "updated wording"
	f2.ScanRunID = "run-2"
	created, err = store.UpsertFinding(ctx, f2)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Error("re-ingested finding reported as created")
	}
	if f2.ID != f1.ID {
		t.Errorf("dedup minted new id %s, want %s", f2.ID, f1.ID)
	}
	if f2.SeenCount != 2 {
		t.Errorf("seen_count = %d, want 2", f2.SeenCount)
	}
	if f2.Message != "updated wording" {
		t.Errorf("message not refreshed: %q", f2.Message)
	}
}

func TestUpsertFindingNilLineDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := registerFile(t, store, "pkg/api/router.go")

	f1 := incomingFinding(file.ID, "audit", "G404", nil)
	if _, err := store.UpsertFinding(ctx, f1); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	f2 := incomingFinding(file.ID, "audit", "G404", nil)
	created, err := store.UpsertFinding(ctx, f2)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created || f2.ID != f1.ID {
		t.Errorf("nil line_start findings did not dedupe: created=%v id=%s want %s", created, f2.ID, f1.ID)
	}
}

func TestMarkStaleFindingsAndReopen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := registerFile(t, store, "pkg/api/auth.go")
	line := 7

	f := incomingFinding(file.ID, "linter", "S1002", &line)
	if _, err := store.UpsertFinding(ctx, f); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	fixed := incomingFinding(file.ID, "linter", "S9999", nil)
	if _, err := store.UpsertFinding(ctx, fixed); err != nil {
		t.Fatalf("upsert fixed: %v", err)
	}
	if _, err := store.UpdateFindingStatus(ctx, fixed.ID, types.FindingFixed); err != nil {
		t.Fatalf("UpdateFindingStatus: %v", err)
	}

	// A new run reports neither finding.
	n, err := store.MarkStaleFindings(ctx, "linter", "run-9")
	if err != nil {
		t.Fatalf("MarkStaleFindings: %v", err)
	}
	if n != 1 {
		t.Errorf("marked %d findings stale, want 1 (terminal excluded)", n)
	}

	findings, err := store.GetFindings(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetFindings: %v", err)
	}
	byID := map[string]string{}
	for _, got := range findings {
		byID[got.ID] = got.Status
	}
	if byID[f.ID] != types.FindingUnseen {
		t.Errorf("finding status = %s, want unseen_in_latest", byID[f.ID])
	}
	if byID[fixed.ID] != types.FindingFixed {
		t.Errorf("terminal finding status = %s, want fixed", byID[fixed.ID])
	}

	// The next run sees it again: back to open.
	reseen := incomingFinding(file.ID, "linter", "S1002", &line)
	reseen.ScanRunID = "run-10"
	if _, err := store.UpsertFinding(ctx, reseen); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if reseen.Status != types.FindingOpen {
		t.Errorf("re-seen finding status = %s, want open", reseen.Status)
	}
}

func TestUpsertReopensFixedFinding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := registerFile(t, store, "pkg/api/token.go")
	line := 19

	f := incomingFinding(file.ID, "linter", "S4006", &line)
	if _, err := store.UpsertFinding(ctx, f); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.UpdateFindingStatus(ctx, f.ID, types.FindingFixed); err != nil {
		t.Fatalf("UpdateFindingStatus: %v", err)
	}

	// The scanner reports it again: the fix did not take, so it reopens.
	back := incomingFinding(file.ID, "linter", "S4006", &line)
	back.ScanRunID = "run-2"
	if _, err := store.UpsertFinding(ctx, back); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if back.Status != types.FindingOpen {
		t.Errorf("re-reported fixed finding status = %s, want open", back.Status)
	}

	// false_positive is a human verdict the scanner cannot overturn.
	fp := incomingFinding(file.ID, "linter", "S5001", nil)
	if _, err := store.UpsertFinding(ctx, fp); err != nil {
		t.Fatalf("upsert fp: %v", err)
	}
	if _, err := store.UpdateFindingStatus(ctx, fp.ID, types.FindingFalsePositive); err != nil {
		t.Fatalf("UpdateFindingStatus: %v", err)
	}
	fpAgain := incomingFinding(file.ID, "linter", "S5001", nil)
	if _, err := store.UpsertFinding(ctx, fpAgain); err != nil {
		t.Fatalf("re-upsert fp: %v", err)
	}
	if fpAgain.Status != types.FindingFalsePositive {
		t.Errorf("false_positive finding status = %s, want false_positive", fpAgain.Status)
	}
}

func TestFileAssociationsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := registerFile(t, store, "cmd/main.go")
	issue := makeTestIssue("bug here")
	mustCreate(t, store, issue)

	assoc := &types.FileAssociation{FileID: file.ID, IssueID: issue.ID, AssocType: types.AssocBugIn}
	created, err := store.AddFileAssociation(ctx, assoc)
	if err != nil {
		t.Fatalf("AddFileAssociation: %v", err)
	}
	if !created {
		t.Error("first association not reported created")
	}

	dup := &types.FileAssociation{FileID: file.ID, IssueID: issue.ID, AssocType: types.AssocBugIn}
	created, err = store.AddFileAssociation(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate AddFileAssociation: %v", err)
	}
	if created {
		t.Error("duplicate association reported created")
	}

	assocs, err := store.GetFileAssociations(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetFileAssociations: %v", err)
	}
	if len(assocs) != 1 {
		t.Errorf("got %d associations, want 1", len(assocs))
	}
}

func TestFileHotspotsWeighting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hot := registerFile(t, store, "hot.go")
	warm := registerFile(t, store, "warm.go")

	crit := incomingFinding(hot.ID, "scan", "R1", nil)
	crit.Severity = types.SeverityCritical
	if _, err := store.UpsertFinding(ctx, crit); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	low := incomingFinding(warm.ID, "scan", "R2", nil)
	low.Severity = types.SeverityLow
	if _, err := store.UpsertFinding(ctx, low); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	spots, err := store.GetFileHotspots(ctx, 10)
	if err != nil {
		t.Fatalf("GetFileHotspots: %v", err)
	}
	if len(spots) != 2 || spots[0].File.ID != hot.ID {
		t.Fatalf("hotspots = %+v, want %s first", spots, hot.ID)
	}
	if spots[0].Findings.Critical != 1 {
		t.Errorf("critical count = %d, want 1", spots[0].Findings.Critical)
	}
}

func TestListFilesPaginated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	registerFile(t, store, "a/one.go")
	registerFile(t, store, "a/two.go")
	registerFile(t, store, "b/three.go")

	files, page, err := store.ListFilesPaginated(ctx,
		types.FileFilter{PathPrefix: "a/"}, types.FileSort{}, 1, 0)
	if err != nil {
		t.Fatalf("ListFilesPaginated: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("total = %d, want 2", page.Total)
	}
	if len(files) != 1 || files[0].File.Path != "a/one.go" {
		t.Errorf("page = %+v, want a/one.go", files)
	}
}

func TestFileTimeline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file := registerFile(t, store, "timeline.go")
	issue := makeTestIssue("linked")
	mustCreate(t, store, issue)

	if _, err := store.UpsertFinding(ctx, incomingFinding(file.ID, "scan", "R1", nil)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.AddFileAssociation(ctx, &types.FileAssociation{
		FileID: file.ID, IssueID: issue.ID, AssocType: types.AssocTaskFor,
	}); err != nil {
		t.Fatalf("AddFileAssociation: %v", err)
	}
	if err := store.RecordFileEvent(ctx, file.ID, types.TimelineFileMetadata, "language changed"); err != nil {
		t.Fatalf("RecordFileEvent: %v", err)
	}

	entries, err := store.GetFileTimeline(ctx, file.ID, "", 10, 0)
	if err != nil {
		t.Fatalf("GetFileTimeline: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d timeline entries, want 3", len(entries))
	}
	kinds := map[string]int{}
	for _, e := range entries {
		kinds[e.Kind]++
	}
	if kinds[types.TimelineFinding] != 1 || kinds[types.TimelineAssociation] != 1 ||
		kinds[types.TimelineFileMetadata] != 1 {
		t.Errorf("kinds = %v, want one finding, one association, one metadata", kinds)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Errorf("timeline not reverse-chronological at %d", i)
		}
	}

	findings, err := store.GetFileTimeline(ctx, file.ID, types.TimelineFinding, 10, 0)
	if err != nil {
		t.Fatalf("GetFileTimeline finding filter: %v", err)
	}
	if len(findings) != 1 || findings[0].Kind != types.TimelineFinding {
		t.Errorf("finding filter = %+v, want exactly one finding entry", findings)
	}
}
