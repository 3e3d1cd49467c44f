package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/internal/logging"
)

const directoryName = "Directory"

// TokenSource supplies a bearer token for the directory API. Letting callers
// inject the source keeps token refresh out of the agent.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields the given token.
func StaticToken(token string) TokenSource {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

// DirectoryAgent manages users and group membership through the Microsoft
// Graph API.
type DirectoryAgent struct {
	baseURL string
	tokens  TokenSource
	http    *httpClient
	logger  logging.Logger
}

// DirectoryConfig configures the directory agent.
type DirectoryConfig struct {
	BaseURL string
	Tokens  TokenSource
	Timeout time.Duration
}

// NewDirectory builds the agent.
func NewDirectory(cfg DirectoryConfig, logger logging.Logger) *DirectoryAgent {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://graph.microsoft.com/v1.0"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &DirectoryAgent{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  cfg.Tokens,
		http:    newHTTPClient(timeout),
		logger:  logger,
	}
}

func (a *DirectoryAgent) Name() string { return directoryName }

func (a *DirectoryAgent) Operations() map[string]castellan.AgentOperation {
	return map[string]castellan.AgentOperation{
		"GetUser":    a.getUser,
		"AddToGroup": a.addToGroup,
	}
}

func (a *DirectoryAgent) headers(ctx context.Context) (map[string]string, error) {
	token, err := a.tokens(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
		"Accept":        "application/json",
	}, nil
}

type directoryUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	JobTitle          string `json:"jobTitle"`
	Department        string `json:"department"`
}

func (a *DirectoryAgent) fetchUser(ctx context.Context, email string) (*directoryUser, error) {
	headers, err := a.headers(ctx)
	if err != nil {
		return nil, err
	}

	var user directoryUser
	query := url.Values{"$select": []string{"id,displayName,mail,userPrincipalName,jobTitle,department"}}
	_, err = a.http.doJSON(ctx, request{
		method:  "GET",
		url:     a.baseURL + "/users/" + url.PathEscape(email),
		headers: headers,
		query:   query,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (a *DirectoryAgent) getUser(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
	email, err := stringArg(args, "user_email")
	if err != nil {
		return nil, castellan.NewAgentError(directoryName, "GetUser", err.Error(), nil)
	}
	if err := validateEmail(email); err != nil {
		return nil, castellan.NewAgentError(directoryName, "GetUser", err.Error(), nil)
	}

	user, err := a.fetchUser(ctx, email)
	if err != nil {
		a.logger.Error("failed to fetch directory user", map[string]any{"user_email": email, "error": err.Error()})
		return nil, castellan.NewAgentError(directoryName, "GetUser", "failed to fetch directory user", err)
	}

	return &castellan.AgentResult{Payload: map[string]any{
		"id":           user.ID,
		"display_name": user.DisplayName,
		"mail":         user.Mail,
		"upn":          user.UserPrincipalName,
		"job_title":    user.JobTitle,
		"department":   user.Department,
	}}, nil
}

// resolveGroup finds a group ID by display name.
func (a *DirectoryAgent) resolveGroup(ctx context.Context, name string) (string, error) {
	headers, err := a.headers(ctx)
	if err != nil {
		return "", err
	}

	var result struct {
		Value []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"value"`
	}
	query := url.Values{
		"$filter": []string{fmt.Sprintf("displayName eq '%s'", strings.ReplaceAll(name, "'", "''"))},
		"$select": []string{"id,displayName"},
	}
	_, err = a.http.doJSON(ctx, request{
		method:  "GET",
		url:     a.baseURL + "/groups",
		headers: headers,
		query:   query,
	}, &result)
	if err != nil {
		return "", err
	}
	if len(result.Value) == 0 {
		return "", fmt.Errorf("group %q not found", name)
	}
	return result.Value[0].ID, nil
}

func (a *DirectoryAgent) addToGroup(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
	email, err := stringArg(args, "user_email")
	if err != nil {
		return nil, castellan.NewAgentError(directoryName, "AddToGroup", err.Error(), nil)
	}
	if err := validateEmail(email); err != nil {
		return nil, castellan.NewAgentError(directoryName, "AddToGroup", err.Error(), nil)
	}
	group, err := stringArg(args, "group")
	if err != nil {
		return nil, castellan.NewAgentError(directoryName, "AddToGroup", err.Error(), nil)
	}

	user, err := a.fetchUser(ctx, email)
	if err != nil {
		a.logger.Error("failed to resolve user for group add", map[string]any{"user_email": email, "error": err.Error()})
		return nil, castellan.NewAgentError(directoryName, "AddToGroup", "failed to resolve directory user", err)
	}
	groupID, err := a.resolveGroup(ctx, group)
	if err != nil {
		a.logger.Error("failed to resolve group", map[string]any{"group": group, "error": err.Error()})
		return nil, castellan.NewAgentError(directoryName, "AddToGroup", "failed to resolve directory group", err)
	}

	headers, err := a.headers(ctx)
	if err != nil {
		return nil, castellan.NewAgentError(directoryName, "AddToGroup", "failed to obtain directory token", err)
	}
	headers["Content-Type"] = "application/json"

	body, _ := json.Marshal(map[string]string{
		"@odata.id": a.baseURL + "/directoryObjects/" + user.ID,
	})
	_, err = a.http.doJSON(ctx, request{
		method:  "POST",
		url:     a.baseURL + "/groups/" + groupID + "/members/$ref",
		headers: headers,
		body:    body,
	}, nil)
	if err != nil {
		a.logger.Error("failed to add user to group", map[string]any{
			"user_email": email, "group": group, "error": err.Error(),
		})
		return nil, castellan.NewAgentError(directoryName, "AddToGroup", "failed to add user to group", err)
	}

	return &castellan.AgentResult{Payload: map[string]any{
		"user_email": email,
		"group":      group,
		"added":      true,
	}}, nil
}
