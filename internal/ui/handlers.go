package ui

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/filigree-dev/filigree/internal/engine"
	"github.com/filigree-dev/filigree/internal/summary"
	"github.com/filigree-dev/filigree/internal/types"
)

type apiHandler struct {
	eng      *engine.Engine
	snapshot *summary.Generator
}

func registerAPI(mux *http.ServeMux, h *apiHandler) {
	mux.HandleFunc("GET /api/issues", h.listIssues)
	mux.HandleFunc("POST /api/issues", h.createIssue)
	mux.HandleFunc("GET /api/issues/{id}", h.getIssue)
	mux.HandleFunc("PATCH /api/issues/{id}", h.updateIssue)
	mux.HandleFunc("POST /api/issues/{id}/close", h.closeIssue)
	mux.HandleFunc("POST /api/issues/{id}/reopen", h.reopenIssue)
	mux.HandleFunc("POST /api/issues/{id}/claim", h.claimIssue)
	mux.HandleFunc("POST /api/issues/{id}/release", h.releaseClaim)
	mux.HandleFunc("GET /api/issues/{id}/comments", h.listComments)
	mux.HandleFunc("POST /api/issues/{id}/comments", h.addComment)
	mux.HandleFunc("GET /api/issues/{id}/events", h.issueEvents)
	mux.HandleFunc("GET /api/issues/{id}/dependencies", h.listDependencies)
	mux.HandleFunc("POST /api/issues/{id}/dependencies", h.addDependency)
	mux.HandleFunc("DELETE /api/issues/{id}/dependencies/{dep}", h.removeDependency)
	mux.HandleFunc("GET /api/issues/{id}/dependents", h.listDependents)

	mux.HandleFunc("GET /api/ready", h.readyWork)
	mux.HandleFunc("GET /api/blocked", h.blockedIssues)
	mux.HandleFunc("GET /api/critical-path", h.criticalPath)

	mux.HandleFunc("POST /api/plans", h.createPlan)
	mux.HandleFunc("GET /api/plans/{id}", h.getPlan)

	mux.HandleFunc("GET /api/files", h.listFiles)
	mux.HandleFunc("POST /api/files", h.registerFile)
	mux.HandleFunc("GET /api/files/hotspots", h.fileHotspots)
	mux.HandleFunc("GET /api/files/{id}/findings", h.fileFindings)
	mux.HandleFunc("GET /api/files/{id}/timeline", h.fileTimeline)
	mux.HandleFunc("POST /api/scans", h.ingestScan)

	mux.HandleFunc("GET /api/stats", h.statistics)
	mux.HandleFunc("GET /api/events", h.recentEvents)
	mux.HandleFunc("GET /api/flow", h.flowMetrics)
}

// actor resolves the mutation actor for a request. Browsers rarely set it, so
// an anonymous dashboard identity is the default.
func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Filigree-Actor")); a != "" {
		return a
	}
	return "dashboard"
}

func (h *apiHandler) refresh(r *http.Request) {
	if h.snapshot != nil {
		h.snapshot.RefreshQuiet(r.Context())
	}
}

func decodeBody(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return engine.E(engine.CodeValidation, "malformed request body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

type issueResult struct {
	Issue    *types.Issue `json:"issue"`
	Warnings []string     `json:"warnings,omitempty"`
}

func (h *apiHandler) listIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.IssueFilter{
		Status:    q.Get("status"),
		Category:  types.Category(q.Get("category")),
		IssueType: q.Get("type"),
		ParentID:  q.Get("parent"),
		Label:     q.Get("label"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}
	if v := q.Get("assignee"); v != "" {
		filter.Assignee = &v
	}
	if v := q.Get("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 0 || p > 4 {
			writeError(w, engine.E(engine.CodeValidation, "priority must be an integer between 0 and 4"))
			return
		}
		filter.Priority = &p
	}

	var (
		issues []*types.Issue
		err    error
	)
	if query := q.Get("q"); query != "" {
		issues, err = h.eng.SearchIssues(r.Context(), query, filter)
	} else {
		issues, err = h.eng.ListIssues(r.Context(), filter)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (h *apiHandler) createIssue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string         `json:"title"`
		Description string         `json:"description"`
		Notes       string         `json:"notes"`
		IssueType   string         `json:"issue_type"`
		Priority    *int           `json:"priority"`
		Parent      string         `json:"parent"`
		Assignee    string         `json:"assignee"`
		Fields      map[string]any `json:"fields"`
		Labels      []string       `json:"labels"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	issue, warnings, err := h.eng.CreateIssue(r.Context(), engine.CreateRequest{
		Title:       body.Title,
		Description: body.Description,
		Notes:       body.Notes,
		IssueType:   body.IssueType,
		Priority:    body.Priority,
		ParentID:    body.Parent,
		Assignee:    body.Assignee,
		Fields:      body.Fields,
		Labels:      body.Labels,
	}, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, issueResult{Issue: issue, Warnings: warnings})
}

func (h *apiHandler) getIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := h.eng.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (h *apiHandler) updateIssue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       *string        `json:"title"`
		Description *string        `json:"description"`
		Notes       *string        `json:"notes"`
		Status      *string        `json:"status"`
		Priority    *int           `json:"priority"`
		Parent      *string        `json:"parent"`
		Assignee    *string        `json:"assignee"`
		Fields      map[string]any `json:"fields"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	issue, warnings, err := h.eng.UpdateIssue(r.Context(), r.PathValue("id"), engine.UpdateRequest{
		Title:       body.Title,
		Description: body.Description,
		Notes:       body.Notes,
		Status:      body.Status,
		Priority:    body.Priority,
		ParentID:    body.Parent,
		Assignee:    body.Assignee,
		Fields:      body.Fields,
	}, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, issueResult{Issue: issue, Warnings: warnings})
}

func (h *apiHandler) closeIssue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Comment string `json:"comment"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
	}
	result, warnings, err := h.eng.CloseIssue(r.Context(), r.PathValue("id"), body.Comment, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"issue":     result.Issue,
		"unblocked": result.Unblocked,
		"warnings":  warnings,
	})
}

func (h *apiHandler) reopenIssue(w http.ResponseWriter, r *http.Request) {
	issue, warnings, err := h.eng.ReopenIssue(r.Context(), r.PathValue("id"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, issueResult{Issue: issue, Warnings: warnings})
}

func (h *apiHandler) claimIssue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Assignee string `json:"assignee"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	issue, err := h.eng.Claim(r.Context(), r.PathValue("id"), body.Assignee, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, issue)
}

func (h *apiHandler) releaseClaim(w http.ResponseWriter, r *http.Request) {
	issue, err := h.eng.Release(r.Context(), r.PathValue("id"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, issue)
}

func (h *apiHandler) listComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.eng.GetComments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *apiHandler) addComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	comment, err := h.eng.AddComment(r.Context(), r.PathValue("id"), actor(r), body.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, comment)
}

func (h *apiHandler) issueEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.eng.GetEvents(r.Context(), r.PathValue("id"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *apiHandler) listDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := h.eng.GetDependencies(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

func (h *apiHandler) listDependents(w http.ResponseWriter, r *http.Request) {
	deps, err := h.eng.GetDependents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

func (h *apiHandler) addDependency(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DependsOn string `json:"depends_on"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := h.eng.AddDependency(r.Context(), id, body.DependsOn, actor(r)); err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "depends_on": body.DependsOn})
}

func (h *apiHandler) removeDependency(w http.ResponseWriter, r *http.Request) {
	id, dep := r.PathValue("id"), r.PathValue("dep")
	if err := h.eng.RemoveDependency(r.Context(), id, dep, actor(r)); err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "depends_on": dep})
}

func (h *apiHandler) readyWork(w http.ResponseWriter, r *http.Request) {
	issues, err := h.eng.GetReadyWork(r.Context(), types.WorkFilter{
		IssueType: r.URL.Query().Get("type"),
		Limit:     queryInt(r, "limit", 20),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (h *apiHandler) blockedIssues(w http.ResponseWriter, r *http.Request) {
	blocked, err := h.eng.GetBlockedIssues(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blocked)
}

func (h *apiHandler) criticalPath(w http.ResponseWriter, r *http.Request) {
	path, err := h.eng.GetCriticalPath(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

func (h *apiHandler) createPlan(w http.ResponseWriter, r *http.Request) {
	var req engine.PlanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.eng.CreatePlan(r.Context(), req, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, result)
}

func (h *apiHandler) getPlan(w http.ResponseWriter, r *http.Request) {
	view, err := h.eng.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *apiHandler) listFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	files, page, err := h.eng.ListFiles(r.Context(), types.FileFilter{
		Language:    q.Get("language"),
		PathPrefix:  q.Get("path_prefix"),
		MinFindings: queryInt(r, "min_findings", 0),
		HasSeverity: q.Get("has_severity"),
		ScanSource:  q.Get("scan_source"),
	}, types.FileSort{
		Field:     q.Get("sort"),
		Direction: q.Get("direction"),
	}, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files, "page": page})
}

func (h *apiHandler) registerFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path     string         `json:"path"`
		Language string         `json:"language"`
		FileType string         `json:"file_type"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	file, err := h.eng.RegisterFile(r.Context(), body.Path, body.Language, body.FileType, body.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, file)
}

func (h *apiHandler) fileHotspots(w http.ResponseWriter, r *http.Request) {
	hotspots, err := h.eng.GetFileHotspots(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hotspots)
}

func (h *apiHandler) fileFindings(w http.ResponseWriter, r *http.Request) {
	findings, err := h.eng.GetFindings(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, findings)
}

func (h *apiHandler) fileTimeline(w http.ResponseWriter, r *http.Request) {
	entries, err := h.eng.GetFileTimeline(r.Context(), r.PathValue("id"),
		r.URL.Query().Get("event_type"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *apiHandler) ingestScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScanSource string                  `json:"scan_source"`
		Findings   []types.IncomingFinding `json:"findings"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.eng.ProcessScanResults(r.Context(), body.ScanSource, body.Findings, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.refresh(r)
	writeJSON(w, http.StatusOK, result)
}

func (h *apiHandler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.eng.GetStatistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *apiHandler) recentEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.eng.GetRecentEvents(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *apiHandler) flowMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.eng.GetFlowMetrics(r.Context(), queryInt(r, "window_days", 30))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}
