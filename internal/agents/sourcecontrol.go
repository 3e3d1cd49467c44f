package agents

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/internal/logging"
)

const (
	sourceControlName = "SourceControl"

	// Per-file patch cap and whole-file content cap. Anything above these
	// limits is cut and flagged so the trace stays bounded.
	maxPatchLength = 4000
	maxFileContent = 40000
	defaultCommits = 20
	maxCommits     = 50
)

// SourceControlAgent is a read-only agent over the GitHub REST API.
type SourceControlAgent struct {
	baseURL string
	token   string
	http    *httpClient
	logger  logging.Logger
}

// SourceControlConfig configures the source control agent.
type SourceControlConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewSourceControl builds the agent. Token may be empty for public data.
func NewSourceControl(cfg SourceControlConfig, logger logging.Logger) *SourceControlAgent {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &SourceControlAgent{
		baseURL: baseURL,
		token:   cfg.Token,
		http:    newHTTPClient(timeout),
		logger:  logger,
	}
}

func (a *SourceControlAgent) Name() string { return sourceControlName }

func (a *SourceControlAgent) Operations() map[string]castellan.AgentOperation {
	return map[string]castellan.AgentOperation{
		"GetPullRequest": a.getPullRequest,
		"ListCommits":    a.listCommits,
		"GetFile":        a.getFile,
	}
}

func (a *SourceControlAgent) headers() map[string]string {
	h := map[string]string{"Accept": "application/vnd.github+json"}
	if a.token != "" {
		h["Authorization"] = "Bearer " + a.token
	}
	return h
}

func (a *SourceControlAgent) get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := a.http.doJSON(ctx, request{
		method:  "GET",
		url:     a.baseURL + path,
		headers: a.headers(),
		query:   query,
	}, out)
	return err
}

func (a *SourceControlAgent) getPullRequest(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
	repo, err := stringArg(args, "repo")
	if err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "GetPullRequest", err.Error(), nil)
	}
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "GetPullRequest", err.Error(), nil)
	}
	number := intArg(args, "number", 0)
	if number <= 0 {
		return nil, castellan.NewAgentError(sourceControlName, "GetPullRequest", "pull request number must be positive", nil)
	}

	var prData map[string]any
	var filesData []map[string]any

	// The PR body and its file list are independent resources. Fetch them
	// in parallel; either failure fails the step.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.get(gctx, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, name, number), nil, &prData)
	})
	g.Go(func() error {
		query := url.Values{"per_page": []string{"100"}}
		return a.get(gctx, fmt.Sprintf("/repos/%s/%s/pulls/%d/files", owner, name, number), query, &filesData)
	})
	if err := g.Wait(); err != nil {
		a.logger.Error("failed to fetch pull request", map[string]any{
			"repo": repo, "number": number, "error": err.Error(),
		})
		return nil, castellan.NewAgentError(sourceControlName, "GetPullRequest", "failed to fetch pull request details", err)
	}

	truncated := false
	changedFiles := make([]string, 0, len(filesData))
	fileSummaries := make([]map[string]any, 0, len(filesData))
	for _, fileInfo := range filesData {
		patch, _ := fileInfo["patch"].(string)
		fileTruncated := false
		if len(patch) > maxPatchLength {
			patch = patch[:maxPatchLength] + "\n" + castellan.TruncationMarker
			fileTruncated = true
			truncated = true
		}
		if filename, ok := fileInfo["filename"].(string); ok && filename != "" {
			changedFiles = append(changedFiles, filename)
		}
		fileSummaries = append(fileSummaries, map[string]any{
			"filename":  fileInfo["filename"],
			"status":    fileInfo["status"],
			"additions": fileInfo["additions"],
			"deletions": fileInfo["deletions"],
			"changes":   fileInfo["changes"],
			"patch":     patch,
			"truncated": fileTruncated,
		})
	}

	var author any
	if user, ok := prData["user"].(map[string]any); ok {
		author = user["login"]
	}
	return &castellan.AgentResult{
		Payload: map[string]any{
			"title":         prData["title"],
			"author":        author,
			"body":          prData["body"],
			"changed_files": changedFiles,
			"files":         fileSummaries,
		},
		Truncated: truncated,
	}, nil
}

func (a *SourceControlAgent) listCommits(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
	repo, err := stringArg(args, "repo")
	if err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "ListCommits", err.Error(), nil)
	}
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "ListCommits", err.Error(), nil)
	}
	branch, err := stringArg(args, "branch")
	if err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "ListCommits", err.Error(), nil)
	}
	if err := validateBranch(branch); err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "ListCommits", err.Error(), nil)
	}
	limit := intArg(args, "limit", defaultCommits)
	if limit < 1 {
		limit = 1
	}
	if limit > maxCommits {
		limit = maxCommits
	}

	var commits []map[string]any
	query := url.Values{"sha": []string{branch}, "per_page": []string{strconv.Itoa(limit)}}
	if err := a.get(ctx, fmt.Sprintf("/repos/%s/%s/commits", owner, name), query, &commits); err != nil {
		a.logger.Error("failed to list commits", map[string]any{
			"repo": repo, "branch": branch, "error": err.Error(),
		})
		return nil, castellan.NewAgentError(sourceControlName, "ListCommits", "failed to list recent commits", err)
	}

	parsed := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		entry := map[string]any{"sha": commit["sha"]}
		if meta, ok := commit["commit"].(map[string]any); ok {
			entry["message"] = meta["message"]
			if author, ok := meta["author"].(map[string]any); ok {
				entry["author"] = author["name"]
				entry["date"] = author["date"]
			}
		}
		parsed = append(parsed, entry)
	}
	return &castellan.AgentResult{Payload: map[string]any{"commits": parsed}}, nil
}

func (a *SourceControlAgent) getFile(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
	repo, err := stringArg(args, "repo")
	if err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "GetFile", err.Error(), nil)
	}
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "GetFile", err.Error(), nil)
	}
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "GetFile", err.Error(), nil)
	}
	if err := validatePath(path); err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "GetFile", err.Error(), nil)
	}
	ref, err := stringArg(args, "ref")
	if err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "GetFile", err.Error(), nil)
	}
	if err := validateBranch(ref); err != nil {
		return nil, castellan.NewAgentError(sourceControlName, "GetFile", err.Error(), nil)
	}

	var response map[string]any
	query := url.Values{"ref": []string{ref}}
	if err := a.get(ctx, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, name, path), query, &response); err != nil {
		a.logger.Error("failed to fetch file", map[string]any{
			"repo": repo, "path": path, "ref": ref, "error": err.Error(),
		})
		return nil, castellan.NewAgentError(sourceControlName, "GetFile", "failed to fetch file content", err)
	}
	if response == nil {
		return nil, castellan.NewAgentError(sourceControlName, "GetFile", "requested path is a directory, not a file", nil)
	}

	encoding, _ := response["encoding"].(string)
	content, hasContent := response["content"].(string)
	if encoding != "base64" || !hasContent {
		return nil, castellan.NewAgentError(sourceControlName, "GetFile", "unexpected file encoding", nil)
	}
	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		// GitHub wraps base64 bodies at 60 columns.
		decoded, err = base64.StdEncoding.DecodeString(stripNewlines(content))
		if err != nil {
			return nil, castellan.NewAgentError(sourceControlName, "GetFile", "failed to decode file content", err)
		}
	}

	text := string(decoded)
	truncated := false
	if len(text) > maxFileContent {
		text = text[:maxFileContent] + "\n" + castellan.TruncationMarker
		truncated = true
	}

	return &castellan.AgentResult{
		Payload: map[string]any{
			"path":     response["path"],
			"sha":      response["sha"],
			"size":     response["size"],
			"content":  text,
			"encoding": "utf-8",
		},
		Truncated: truncated,
	}, nil
}

func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' && s[i] != '\r' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
