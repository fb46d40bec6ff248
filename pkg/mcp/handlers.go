package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/prdigest/pr-digest/pkg/site"
	"github.com/prdigest/pr-digest/pkg/utils"
)

// handleListDigests handles the list_digests tool
func (s *Server) handleListDigests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	digests, err := site.ListDigests(s.cfg.AppConfig.ArchivesDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list digests: %v", err)), nil
	}
	total := len(digests)
	if limit := request.GetInt("limit", 0); limit > 0 && limit < total {
		digests = digests[:limit]
	}

	items := make([]map[string]interface{}, 0, len(digests))
	for _, d := range digests {
		item := map[string]interface{}{
			"date":        d.Day.Format(time.DateOnly),
			"source_file": d.RelPath,
			"page":        d.PageRelPath(),
		}
		pagePath := filepath.Join(s.cfg.AppConfig.OutputsDir, filepath.FromSlash(d.PageRelPath()))
		if info, err := os.Stat(pagePath); err == nil {
			item["page_rendered_at"] = info.ModTime().UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}

	result := map[string]interface{}{
		"repository":    s.cfg.AppConfig.Repository.FullName(),
		"digests":       items,
		"total_digests": total,
		"config_path":   s.cfg.ConfigPath,
	}
	if s.jobManager.IsRunning(JobKindBuild) {
		result["build_status"] = "running"
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetDigestStats handles the get_digest_stats tool
func (s *Server) handleGetDigestStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, err := s.resolveDigest(request.GetString("date", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := site.AnalyzeFile(d.Path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to analyze digest: %v", err)), nil
	}

	view := site.ViewOf(d, res, s.now().UTC())
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"stats":        view.Stats,
		"community":    view.Community,
		"bot":          view.Bot,
		"label_groups": view.LabelGroups,
	})), nil
}

// handleGetLabelGroups handles the get_label_groups tool
func (s *Server) handleGetLabelGroups(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, err := s.resolveDigest(request.GetString("date", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := site.AnalyzeFile(d.Path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to analyze digest: %v", err)), nil
	}

	groups := site.LabelGroupViews(res)
	if label := request.GetString("label", ""); label != "" {
		filtered := groups[:0]
		for _, g := range groups {
			if g.Name == label {
				filtered = append(filtered, g)
			}
		}
		if len(filtered) == 0 {
			return mcp.NewToolResultError(fmt.Sprintf("label '%s' not found in digest %s", label, d.Day.Format(time.DateOnly))), nil
		}
		groups = filtered
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"date":         d.Day.Format(time.DateOnly),
		"label_groups": groups,
		"total_labels": res.LabelCount(),
	})), nil
}

// handleSearchDigests handles the search_digests tool
func (s *Server) handleSearchDigests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	label := request.GetString("label", "")
	maxResults := request.GetInt("max_results", 10)
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 100 {
		maxResults = 100
	}

	results, err := s.searchDigests(ctx, query, label, maxResults)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	response := map[string]interface{}{
		"query":         query,
		"results":       results,
		"total_matches": len(results),
	}
	if label != "" {
		response["label"] = label
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleBuildSite handles the build_site tool
func (s *Server) handleBuildSite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	job, created := s.jobManager.CreateJob(JobKindBuild)
	if !created {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"status":  "already_running",
			"message": "A site build is already in progress",
			"job_id":  job.ID,
		})), nil
	}

	go s.runBuildJob(job.ID)

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"status":  "started",
		"message": "Site build started",
		"job_id":  job.ID,
	})), nil
}

// handleGenerateDigest handles the generate_digest tool
func (s *Server) handleGenerateDigest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	now := s.now().UTC()
	target := now.AddDate(0, 0, -1)
	if date := request.GetString("date", ""); date != "" {
		day, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid date '%s': expected YYYY-MM-DD", date)), nil
		}
		if !day.Before(now) {
			return mcp.NewToolResultError(fmt.Sprintf("date %s is not in the past", date)), nil
		}
		target = day
	}

	job, created := s.jobManager.CreateJob(JobKindGenerate)
	if !created {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"status":  "already_running",
			"message": "A digest generation is already in progress",
			"job_id":  job.ID,
		})), nil
	}

	// The pipeline digests the UTC day before the given time
	go s.runGenerateJob(job.ID, target.AddDate(0, 0, 1))

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"status":  "started",
		"message": "Digest generation started",
		"job_id":  job.ID,
		"date":    target.Format(time.DateOnly),
	})), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":     job.ID,
		"kind":       job.Kind,
		"status":     job.Status,
		"started_at": job.StartedAt.Format(time.RFC3339),
		"processed":  job.Processed,
		"total":      job.Total,
	}

	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.Result != "" {
		result["result"] = job.Result
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runBuildJob runs a site build in the background
func (s *Server) runBuildJob(jobID string) {
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	jobCtx := s.jobManager.GetContext(jobID)

	res, err := s.cfg.Builder.Build(jobCtx)
	if res != nil {
		s.jobManager.UpdateProgress(jobID, int64(res.Rendered+res.Skipped), int64(res.Digests))
		s.jobManager.SetResult(jobID, fmt.Sprintf("%d rendered, %d skipped, %d failed", res.Rendered, res.Skipped, res.Failed))
	}
	if err != nil {
		s.log.Errorf("Build job %s failed: %v", jobID, err)
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, err.Error())
		return
	}
	s.jobManager.UpdateStatus(jobID, JobStatusCompleted, "")
}

// runGenerateJob runs the daily pipeline in the background
func (s *Server) runGenerateJob(jobID string, now time.Time) {
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	jobCtx := s.jobManager.GetContext(jobID)

	res, err := s.cfg.Generator.Run(jobCtx, now)
	if res != nil {
		s.jobManager.UpdateProgress(jobID, int64(res.Entries), int64(res.Entries))
		if res.ArchivePath != "" {
			s.jobManager.SetResult(jobID, res.ArchivePath)
		}
	}
	switch {
	case errors.Is(err, utils.ErrNoPullRequests):
		s.jobManager.SetResult(jobID, "no merged pull requests")
		s.jobManager.UpdateStatus(jobID, JobStatusCompleted, "")
	case err != nil:
		s.log.Errorf("Generate job %s failed: %v", jobID, err)
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, err.Error())
	default:
		s.jobManager.UpdateStatus(jobID, JobStatusCompleted, "")
	}
}

// resolveDigest finds the digest for a YYYY-MM-DD date, or the newest one when empty
func (s *Server) resolveDigest(date string) (site.Digest, error) {
	if date == "" {
		digests, err := site.ListDigests(s.cfg.AppConfig.ArchivesDir)
		if err != nil {
			return site.Digest{}, err
		}
		if len(digests) == 0 {
			return site.Digest{}, fmt.Errorf("no digests in %s", s.cfg.AppConfig.ArchivesDir)
		}
		return digests[0], nil
	}
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return site.Digest{}, fmt.Errorf("invalid date '%s': expected YYYY-MM-DD", date)
	}
	d, err := site.FindDigest(s.cfg.AppConfig.ArchivesDir, day)
	if err != nil {
		return site.Digest{}, fmt.Errorf("digest for %s not found", date)
	}
	return d, nil
}

// searchDigests matches entry titles across all digests, newest first
func (s *Server) searchDigests(ctx context.Context, query, label string, maxResults int) ([]map[string]interface{}, error) {
	digests, err := site.ListDigests(s.cfg.AppConfig.ArchivesDir)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)

	results := make([]map[string]interface{}, 0)
	for _, d := range digests {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := site.AnalyzeFile(d.Path)
		if err != nil {
			s.log.Warnf("Skipping unreadable digest %s: %v", d.Path, err)
			continue
		}
		view := site.ViewOf(d, res, time.Time{})

		var allowed map[string]bool
		if label != "" {
			allowed = make(map[string]bool)
			for _, g := range view.LabelGroups {
				if g.Name == label {
					for _, e := range g.Entries {
						allowed[e.AnchorID] = true
					}
				}
			}
		}

		sections := []struct {
			entries []site.EntryView
			bot     bool
		}{{view.Community, false}, {view.Bot, true}}
		for _, sec := range sections {
			for _, e := range sec.entries {
				if allowed != nil && !allowed[e.AnchorID] {
					continue
				}
				text := html.UnescapeString(e.DisplayText)
				if !strings.Contains(strings.ToLower(text), needle) {
					continue
				}
				results = append(results, map[string]interface{}{
					"date":      d.Day.Format(time.DateOnly),
					"anchor_id": e.AnchorID,
					"title":     text,
					"bot":       sec.bot,
					"page":      d.PageRelPath() + "#" + e.AnchorID,
				})
				if len(results) >= maxResults {
					return results, nil
				}
			}
		}
	}
	return results, nil
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
