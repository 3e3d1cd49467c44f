package agents

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/internal/logging"
)

const (
	issueTrackerName = "IssueTracker"

	defaultSearchLimit = 20
	maxSearchLimit     = 50
	maxIssueComments   = 10
)

var issueKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]+-\d+$`)

// IssueTrackerAgent is a read-only agent over the Jira REST API.
type IssueTrackerAgent struct {
	baseURL  string
	username string
	apiToken string
	http     *httpClient
	logger   logging.Logger
}

// IssueTrackerConfig configures the issue tracker agent.
type IssueTrackerConfig struct {
	BaseURL  string
	Username string
	APIToken string
	Timeout  time.Duration
}

// NewIssueTracker builds the agent.
func NewIssueTracker(cfg IssueTrackerConfig, logger logging.Logger) *IssueTrackerAgent {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &IssueTrackerAgent{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		apiToken: cfg.APIToken,
		http:     newHTTPClient(timeout),
		logger:   logger,
	}
}

func (a *IssueTrackerAgent) Name() string { return issueTrackerName }

func (a *IssueTrackerAgent) Operations() map[string]castellan.AgentOperation {
	return map[string]castellan.AgentOperation{
		"GetIssue":     a.getIssue,
		"SearchIssues": a.searchIssues,
	}
}

func (a *IssueTrackerAgent) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if a.username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(a.username + ":" + a.apiToken))
		h["Authorization"] = "Basic " + credentials
	}
	return h
}

func (a *IssueTrackerAgent) getIssue(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
	issueKey, err := stringArg(args, "issue_key")
	if err != nil {
		return nil, castellan.NewAgentError(issueTrackerName, "GetIssue", err.Error(), nil)
	}
	if !issueKeyPattern.MatchString(issueKey) {
		return nil, castellan.NewAgentError(issueTrackerName, "GetIssue", fmt.Sprintf("issue key %q is invalid", issueKey), nil)
	}

	var issue struct {
		Key    string `json:"key"`
		Fields struct {
			Summary     string `json:"summary"`
			Description string `json:"description"`
			Reporter    *struct {
				DisplayName string `json:"displayName"`
			} `json:"reporter"`
			Status *struct {
				Name string `json:"name"`
			} `json:"status"`
			Comment struct {
				Comments []struct {
					Author struct {
						DisplayName string `json:"displayName"`
					} `json:"author"`
					Body    string `json:"body"`
					Created string `json:"created"`
				} `json:"comments"`
			} `json:"comment"`
		} `json:"fields"`
	}

	query := url.Values{"fields": []string{"summary,description,reporter,status,comment"}}
	_, err = a.http.doJSON(ctx, request{
		method:  "GET",
		url:     a.baseURL + "/rest/api/2/issue/" + url.PathEscape(issueKey),
		headers: a.headers(),
		query:   query,
	}, &issue)
	if err != nil {
		a.logger.Error("failed to fetch issue", map[string]any{"issue_key": issueKey, "error": err.Error()})
		return nil, castellan.NewAgentError(issueTrackerName, "GetIssue", "failed to fetch issue details", err)
	}

	comments := issue.Fields.Comment.Comments
	if len(comments) > maxIssueComments {
		comments = comments[:maxIssueComments]
	}
	commentSummaries := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		commentSummaries = append(commentSummaries, map[string]any{
			"author":  comment.Author.DisplayName,
			"body":    comment.Body,
			"created": comment.Created,
		})
	}

	payload := map[string]any{
		"key":         issueKey,
		"summary":     issue.Fields.Summary,
		"description": issue.Fields.Description,
		"comments":    commentSummaries,
	}
	if issue.Fields.Reporter != nil {
		payload["reporter"] = issue.Fields.Reporter.DisplayName
	}
	if issue.Fields.Status != nil {
		payload["status"] = issue.Fields.Status.Name
	}
	return &castellan.AgentResult{Payload: payload}, nil
}

func (a *IssueTrackerAgent) searchIssues(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, castellan.NewAgentError(issueTrackerName, "SearchIssues", err.Error(), nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, castellan.NewAgentError(issueTrackerName, "SearchIssues", "query must not be empty", nil)
	}
	limit := intArg(args, "limit", defaultSearchLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	var result struct {
		Total  int `json:"total"`
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Summary string `json:"summary"`
				Status  *struct {
					Name string `json:"name"`
				} `json:"status"`
			} `json:"fields"`
		} `json:"issues"`
	}

	params := url.Values{
		"jql":        []string{query},
		"maxResults": []string{strconv.Itoa(limit)},
		"fields":     []string{"summary,status"},
	}
	_, err = a.http.doJSON(ctx, request{
		method:  "GET",
		url:     a.baseURL + "/rest/api/2/search",
		headers: a.headers(),
		query:   params,
	}, &result)
	if err != nil {
		a.logger.Error("failed to search issues", map[string]any{"query": query, "error": err.Error()})
		return nil, castellan.NewAgentError(issueTrackerName, "SearchIssues", "failed to search issues", err)
	}

	issues := make([]map[string]any, 0, len(result.Issues))
	for _, issue := range result.Issues {
		entry := map[string]any{
			"key":     issue.Key,
			"summary": issue.Fields.Summary,
		}
		if issue.Fields.Status != nil {
			entry["status"] = issue.Fields.Status.Name
		}
		issues = append(issues, entry)
	}
	return &castellan.AgentResult{Payload: map[string]any{"total": result.Total, "issues": issues}}, nil
}
