package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/filigree-dev/filigree/internal/engine"
	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/summary"
	"github.com/filigree-dev/filigree/internal/telemetry"
	"github.com/filigree-dev/filigree/internal/timeparsing"
	"github.com/filigree-dev/filigree/internal/types"
)

// Server dispatches tool calls to the engine. It is stateless between
// requests; concurrency is bounded only by the database.
type Server struct {
	eng      *engine.Engine
	snapshot *summary.Generator
	recorder *telemetry.Recorder
}

// NewServer wires a dispatcher. snapshot may be nil for callers that manage
// their own snapshot refresh.
func NewServer(eng *engine.Engine, snapshot *summary.Generator) *Server {
	return &Server{
		eng:      eng,
		snapshot: snapshot,
		recorder: telemetry.NewRecorder("github.com/filigree-dev/filigree/rpc"),
	}
}

// Handle executes one request and returns its response envelope. It never
// panics outward and never returns a Go error: every failure is an envelope.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	resp := s.dispatch(ctx, req)
	resp.RequestID = req.RequestID
	var errForMetrics error
	if !resp.Success {
		errForMetrics = errors.New(resp.Code)
	}
	s.recorder.Observe(ctx, req.Operation, start, errForMetrics)
	return resp
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	if req.Operation == OpPing {
		return ok(map[string]string{"status": "ok", "prefix": s.eng.Prefix()}, nil)
	}

	actor, err := validateActor(req.Actor)
	if err != nil {
		return fail(err)
	}

	resp, mutated := s.route(ctx, req, actor)
	if mutated && resp.Success && s.snapshot != nil {
		s.snapshot.RefreshQuiet(ctx)
	}
	return resp
}

// route runs the operation and reports whether it may have changed visible
// state (driving snapshot regeneration).
func (s *Server) route(ctx context.Context, req Request, actor string) (Response, bool) {
	switch req.Operation {

	case OpCreate:
		var args CreateArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		priority, err := parsePriority(args.Priority, "priority")
		if err != nil {
			return fail(err), false
		}
		issue, warnings, err := s.eng.CreateIssue(ctx, engine.CreateRequest{
			Title:       args.Title,
			Description: args.Description,
			Notes:       args.Notes,
			IssueType:   args.IssueType,
			Priority:    priority,
			ParentID:    args.Parent,
			Assignee:    args.Assignee,
			Fields:      args.Fields,
			Labels:      args.Labels,
		}, actor)
		if err != nil {
			return fail(err), false
		}
		return ok(issue, warnings), true

	case OpGet:
		var args IDArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		issue, err := s.eng.GetIssue(ctx, args.ID)
		if err != nil {
			return fail(err), false
		}
		return ok(issue, nil), false

	case OpUpdate:
		var args UpdateArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		priority, err := parsePriority(args.Priority, "priority")
		if err != nil {
			return fail(err), false
		}
		issue, warnings, err := s.eng.UpdateIssue(ctx, args.ID, engine.UpdateRequest{
			Title:               args.Title,
			Description:         args.Description,
			Notes:               args.Notes,
			Status:              args.Status,
			Priority:            priority,
			ParentID:            args.Parent,
			Assignee:            args.Assignee,
			Fields:              args.Fields,
			SkipTransitionCheck: args.SkipTransitionCheck,
		}, actor)
		if err != nil {
			return fail(err), false
		}
		return ok(issue, warnings), true

	case OpClose:
		var args CloseArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		result, warnings, err := s.eng.CloseIssue(ctx, args.ID, args.Comment, actor)
		if err != nil {
			return fail(err), false
		}
		return ok(result, warnings), true

	case OpReopen:
		var args IDArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		issue, warnings, err := s.eng.ReopenIssue(ctx, args.ID, actor)
		if err != nil {
			return fail(err), false
		}
		return ok(issue, warnings), true

	case OpList:
		var args ListArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		filter, err := args.toFilter()
		if err != nil {
			return fail(err), false
		}
		issues, err := s.eng.ListIssues(ctx, filter)
		if err != nil {
			return fail(err), false
		}
		return ok(issues, nil), false

	case OpSearch:
		var args ListArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		filter, err := args.toFilter()
		if err != nil {
			return fail(err), false
		}
		issues, err := s.eng.SearchIssues(ctx, args.Query, filter)
		if err != nil {
			return fail(err), false
		}
		return ok(issues, nil), false

	case OpStale:
		var args StaleArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		issues, err := s.eng.GetStaleIssues(ctx, types.StaleFilter{
			Days: args.Days, Status: args.Status, Limit: args.Limit,
		})
		if err != nil {
			return fail(err), false
		}
		return ok(issues, nil), false

	case OpStats:
		stats, err := s.eng.GetStatistics(ctx)
		if err != nil {
			return fail(err), false
		}
		return ok(stats, nil), false

	case OpBatch:
		var args struct {
			Items  []engine.BatchItem `json:"items"`
			Atomic bool               `json:"atomic,omitempty"`
		}
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		results, err := s.eng.Batch(ctx, args.Items, args.Atomic, actor)
		if err != nil {
			return fail(err), false
		}
		return ok(results, nil), true

	case OpUndo:
		var args IDArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		result, err := s.eng.UndoLast(ctx, args.ID, actor)
		if err != nil {
			return fail(err), false
		}
		return ok(result, nil), true

	case OpComment:
		var args CommentArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		comment, err := s.eng.AddComment(ctx, args.ID, actor, args.Text)
		if err != nil {
			return fail(err), false
		}
		return ok(comment, nil), true

	case OpHistory:
		var args IDArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		comments, err := s.eng.GetComments(ctx, args.ID)
		if err != nil {
			return fail(err), false
		}
		return ok(comments, nil), false

	case OpLabelAdd, OpLabelRemove:
		var args LabelArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		var err error
		if req.Operation == OpLabelAdd {
			err = s.eng.AddLabel(ctx, args.ID, args.Label, actor)
		} else {
			err = s.eng.RemoveLabel(ctx, args.ID, args.Label, actor)
		}
		if err != nil {
			return fail(err), false
		}
		return ok(map[string]string{"id": args.ID, "label": args.Label}, nil), true

	case OpClaim:
		var args ClaimArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		issue, err := s.eng.Claim(ctx, args.ID, args.Assignee, actor)
		if err != nil {
			return fail(err), false
		}
		return ok(issue, nil), true

	case OpClaimNext:
		var args ClaimArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		filter, err := args.toWorkFilter()
		if err != nil {
			return fail(err), false
		}
		result, err := s.eng.ClaimNext(ctx, args.Assignee, filter, actor)
		if err != nil {
			return fail(err), false
		}
		if result == nil {
			return ok(map[string]any{"issue": nil, "reason": "nothing ready"}, nil), false
		}
		return ok(result, nil), true

	case OpRelease:
		var args IDArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		issue, err := s.eng.Release(ctx, args.ID, actor)
		if err != nil {
			return fail(err), false
		}
		return ok(issue, nil), true

	case OpDepAdd:
		var args DepArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		if err := s.eng.AddDependency(ctx, args.ID, args.DependsOn, actor); err != nil {
			return fail(err), false
		}
		return ok(map[string]string{"id": args.ID, "depends_on": args.DependsOn}, nil), true

	case OpDepRemove:
		var args DepArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		if err := s.eng.RemoveDependency(ctx, args.ID, args.DependsOn, actor); err != nil {
			return fail(err), false
		}
		return ok(map[string]string{"id": args.ID, "depends_on": args.DependsOn}, nil), true

	case OpDeps, OpDependents:
		var args IDArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		var issues []*types.Issue
		var err error
		if req.Operation == OpDeps {
			issues, err = s.eng.GetDependencies(ctx, args.ID)
		} else {
			issues, err = s.eng.GetDependents(ctx, args.ID)
		}
		if err != nil {
			return fail(err), false
		}
		return ok(issues, nil), false

	case OpReady:
		var args ClaimArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		filter, err := args.toWorkFilter()
		if err != nil {
			return fail(err), false
		}
		issues, err := s.eng.GetReadyWork(ctx, filter)
		if err != nil {
			return fail(err), false
		}
		return ok(issues, nil), false

	case OpBlocked:
		blocked, err := s.eng.GetBlockedIssues(ctx)
		if err != nil {
			return fail(err), false
		}
		return ok(blocked, nil), false

	case OpCriticalPath:
		path, err := s.eng.GetCriticalPath(ctx)
		if err != nil {
			return fail(err), false
		}
		return ok(path, nil), false

	case OpPlanCreate:
		var args engine.PlanRequest
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		result, err := s.eng.CreatePlan(ctx, args, actor)
		if err != nil {
			return fail(err), false
		}
		return ok(result, nil), true

	case OpPlanGet:
		var args IDArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		view, err := s.eng.GetPlan(ctx, args.ID)
		if err != nil {
			return fail(err), false
		}
		return ok(view, nil), false

	case OpFileRegister:
		var args FileRegisterArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		file, err := s.eng.RegisterFile(ctx, args.Path, args.Language, args.FileType, args.Metadata)
		if err != nil {
			return fail(err), false
		}
		return ok(file, nil), true

	case OpFileGet:
		var args struct {
			Path string `json:"path"`
		}
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		file, err := s.eng.GetFileByPath(ctx, args.Path)
		if err != nil {
			return fail(err), false
		}
		return ok(file, nil), false

	case OpScanIngest:
		var args ScanArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		findings := make([]types.IncomingFinding, len(args.Findings))
		for i, f := range args.Findings {
			findings[i] = types.IncomingFinding(f)
		}
		result, err := s.eng.ProcessScanResults(ctx, args.ScanSource, findings, actor)
		if err != nil {
			return fail(err), false
		}
		return ok(result, nil), true

	case OpCleanStale:
		var args CleanStaleArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		stale, err := s.eng.CleanStaleFindings(ctx, args.ScanSource, args.ScanRunID)
		if err != nil {
			return fail(err), false
		}
		return ok(map[string]int64{"stale": stale}, nil), true

	case OpFindingStatus:
		var args FindingStatusArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		finding, err := s.eng.UpdateFindingStatus(ctx, args.FindingID, args.Status)
		if err != nil {
			return fail(err), false
		}
		return ok(finding, nil), true

	case OpFindings:
		var args struct {
			FileID string `json:"file_id"`
		}
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		findings, err := s.eng.GetFindings(ctx, args.FileID)
		if err != nil {
			return fail(err), false
		}
		return ok(findings, nil), false

	case OpFileAssociate:
		var args FileAssociateArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		assoc, created, err := s.eng.AddFileAssociation(ctx, args.FileID, args.IssueID, args.AssocType)
		if err != nil {
			return fail(err), false
		}
		return ok(map[string]any{"association": assoc, "created": created}, nil), true

	case OpFileTimeline:
		var args FileTimelineArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		entries, err := s.eng.GetFileTimeline(ctx, args.FileID, args.EventType, args.Limit, args.Offset)
		if err != nil {
			return fail(err), false
		}
		return ok(entries, nil), false

	case OpFilesList:
		var args FilesListArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		summaries, page, err := s.eng.ListFiles(ctx, types.FileFilter{
			Language:    args.Language,
			PathPrefix:  args.PathPrefix,
			MinFindings: args.MinFindings,
			HasSeverity: args.HasSeverity,
			ScanSource:  args.ScanSource,
		}, types.FileSort{Field: args.Sort, Direction: args.Direction}, args.Limit, args.Offset)
		if err != nil {
			return fail(err), false
		}
		return ok(map[string]any{"files": summaries, "page": page}, nil), false

	case OpFileHotspots:
		var args LimitArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		hotspots, err := s.eng.GetFileHotspots(ctx, args.Limit)
		if err != nil {
			return fail(err), false
		}
		return ok(hotspots, nil), false

	case OpEvents:
		var args EventsArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		events, err := s.eng.GetEvents(ctx, args.ID, args.Limit)
		if err != nil {
			return fail(err), false
		}
		return ok(events, nil), false

	case OpEventsSince:
		var args EventsArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		since, err := idgen.ParseTime(args.Since)
		if err != nil {
			return fail(engine.E(engine.CodeValidation,
				"since must be a %s timestamp", idgen.TimestampFormat)), false
		}
		events, err := s.eng.GetEventsSince(ctx, since, args.Limit)
		if err != nil {
			return fail(err), false
		}
		return ok(events, nil), false

	case OpRecent:
		var args LimitArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		events, err := s.eng.GetRecentEvents(ctx, args.Limit)
		if err != nil {
			return fail(err), false
		}
		return ok(events, nil), false

	case OpFlowMetrics:
		var args struct {
			WindowDays int `json:"window_days,omitempty"`
		}
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		metrics, err := s.eng.GetFlowMetrics(ctx, args.WindowDays)
		if err != nil {
			return fail(err), false
		}
		return ok(metrics, nil), false

	case OpArchive:
		var args ArchiveArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		before, err := timeparsing.Parse(args.Before, time.Now().UTC())
		if err != nil {
			return fail(engine.E(engine.CodeValidation, "%v", err)), false
		}
		bundles, err := s.eng.ArchiveClosed(ctx, before, actor)
		if err != nil {
			return fail(err), false
		}
		return ok(bundles, nil), true

	case OpCompact:
		var args CompactArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		deleted, err := s.eng.CompactEvents(ctx, args.KeepPerIssue)
		if err != nil {
			return fail(err), false
		}
		return ok(map[string]int64{"deleted": deleted}, nil), true

	case OpListTypes:
		return ok(s.eng.Registry().Types(), nil), false

	case OpTypeInfo:
		var args TypeArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		tpl, known := s.eng.Registry().Get(args.IssueType)
		return ok(map[string]any{"template": tpl, "declared": known}, nil), false

	case OpValidTransitions:
		var args TypeArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		transitions := s.eng.Registry().ValidTransitions(args.IssueType, args.State, args.Fields)
		return ok(transitions, nil), false

	case OpExplainState:
		var args TypeArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		return ok(map[string]string{
			"explanation": s.eng.Registry().ExplainState(args.IssueType, args.State),
		}, nil), false

	case OpWorkflowGuide:
		return ok(map[string]string{"guide": s.eng.Registry().WorkflowGuide()}, nil), false

	case OpWorkflowStates:
		var args TypeArgs
		if err := decode(req.Args, &args); err != nil {
			return fail(err), false
		}
		tpl, _ := s.eng.Registry().Get(args.IssueType)
		return ok(map[string]any{"initial_state": tpl.InitialState, "states": tpl.States}, nil), false
	}

	return fail(engine.E(engine.CodeValidation, "unknown operation %q", req.Operation)), false
}

func (a ListArgs) toFilter() (types.IssueFilter, error) {
	priority, err := parsePriority(a.Priority, "priority")
	if err != nil {
		return types.IssueFilter{}, err
	}
	return types.IssueFilter{
		Status:    a.Status,
		Category:  types.Category(a.Category),
		IssueType: a.IssueType,
		Assignee:  a.Assignee,
		Priority:  priority,
		ParentID:  a.Parent,
		Label:     a.Label,
		Limit:     a.Limit,
		Offset:    a.Offset,
	}, nil
}

func (a ClaimArgs) toWorkFilter() (types.WorkFilter, error) {
	min, err := parsePriority(a.PriorityMin, "priority_min")
	if err != nil {
		return types.WorkFilter{}, err
	}
	max, err := parsePriority(a.PriorityMax, "priority_max")
	if err != nil {
		return types.WorkFilter{}, err
	}
	return types.WorkFilter{
		IssueType:   a.IssueType,
		PriorityMin: min,
		PriorityMax: max,
		Limit:       a.Limit,
	}, nil
}

func decode(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return engine.E(engine.CodeValidation, "malformed args: %v", err)
	}
	return nil
}

func ok(data any, warnings []string) Response {
	payload, err := json.Marshal(data)
	if err != nil {
		return Response{
			Success: false,
			Error:   fmt.Sprintf("encode response: %v", err),
			Code:    engine.CodeInternal,
		}
	}
	return Response{Success: true, Data: payload, Warnings: warnings}
}

func fail(err error) Response {
	return Response{Success: false, Error: err.Error(), Code: engine.CodeOf(err)}
}
