package agents

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
	"time"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/internal/logging"
)

const ciRunnerName = "CIRunner"

// CIRunnerAgent triggers the access-provisioning pipeline on a Jenkins
// controller. This is the only side-effecting agent in the default set.
type CIRunnerAgent struct {
	baseURL  string
	jobPath  string
	username string
	apiToken string
	ccEmail  string
	http     *httpClient
	logger   logging.Logger
}

// CIRunnerConfig configures the CI runner agent. DefaultCCEmail is applied
// when a plan step does not carry its own cc_email.
type CIRunnerConfig struct {
	BaseURL        string
	JobPath        string
	Username       string
	APIToken       string
	DefaultCCEmail string
	Timeout        time.Duration
}

// NewCIRunner builds the agent.
func NewCIRunner(cfg CIRunnerConfig, logger logging.Logger) *CIRunnerAgent {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &CIRunnerAgent{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		jobPath:  strings.Trim(cfg.JobPath, "/"),
		username: cfg.Username,
		apiToken: cfg.APIToken,
		ccEmail:  cfg.DefaultCCEmail,
		http:     newHTTPClient(timeout),
		logger:   logger,
	}
}

func (a *CIRunnerAgent) Name() string { return ciRunnerName }

func (a *CIRunnerAgent) Operations() map[string]castellan.AgentOperation {
	return map[string]castellan.AgentOperation{
		"ProvisionAccess": a.provisionAccess,
	}
}

func (a *CIRunnerAgent) headers() map[string]string {
	h := map[string]string{}
	if a.username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(a.username + ":" + a.apiToken))
		h["Authorization"] = "Basic " + credentials
	}
	return h
}

// fetchCrumb obtains the CSRF crumb required for POSTs to the controller.
func (a *CIRunnerAgent) fetchCrumb(ctx context.Context) (field, crumb string, err error) {
	var response struct {
		Crumb             string `json:"crumb"`
		CrumbRequestField string `json:"crumbRequestField"`
	}
	_, err = a.http.doJSON(ctx, request{
		method:  "GET",
		url:     a.baseURL + "/crumbIssuer/api/json",
		headers: a.headers(),
	}, &response)
	if err != nil {
		return "", "", err
	}
	return response.CrumbRequestField, response.Crumb, nil
}

func (a *CIRunnerAgent) provisionAccess(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
	userEmail, err := stringArg(args, "user_email")
	if err != nil {
		return nil, castellan.NewAgentError(ciRunnerName, "ProvisionAccess", err.Error(), nil)
	}
	if err := validateEmail(userEmail); err != nil {
		return nil, castellan.NewAgentError(ciRunnerName, "ProvisionAccess", err.Error(), nil)
	}
	services, err := stringListArg(args, "services")
	if err != nil {
		return nil, castellan.NewAgentError(ciRunnerName, "ProvisionAccess", err.Error(), nil)
	}

	ccEmail := a.ccEmail
	if override, ok := optionalStringArg(args, "cc_email"); ok {
		if err := validateEmail(override); err != nil {
			return nil, castellan.NewAgentError(ciRunnerName, "ProvisionAccess", err.Error(), nil)
		}
		ccEmail = override
	}

	form := url.Values{
		"USER_EMAIL": []string{userEmail},
		"SERVICES":   []string{strings.Join(services, ",")},
	}
	if ccEmail != "" {
		form.Set("CC_EMAIL", ccEmail)
	}
	if iamGroup, ok := optionalStringArg(args, "iam_group"); ok {
		form.Set("IAM_GROUP", iamGroup)
	}
	if team, ok := optionalStringArg(args, "team"); ok {
		form.Set("TEAM", team)
	}
	if environment, ok := optionalStringArg(args, "environment"); ok {
		form.Set("ENVIRONMENT", environment)
	}

	crumbField, crumb, err := a.fetchCrumb(ctx)
	if err != nil {
		a.logger.Error("failed to fetch controller crumb", map[string]any{"error": err.Error()})
		return nil, castellan.NewAgentError(ciRunnerName, "ProvisionAccess", "failed to obtain pipeline crumb", err)
	}

	headers := a.headers()
	headers["Content-Type"] = "application/x-www-form-urlencoded"
	if crumbField != "" {
		headers[crumbField] = crumb
	}

	status, err := a.http.doJSON(ctx, request{
		method:  "POST",
		url:     a.baseURL + "/" + a.jobPath + "/buildWithParameters",
		headers: headers,
		body:    []byte(form.Encode()),
	}, nil)
	if err != nil {
		a.logger.Error("failed to trigger provisioning pipeline", map[string]any{
			"user_email": userEmail, "status": status, "error": err.Error(),
		})
		return nil, castellan.NewAgentError(ciRunnerName, "ProvisionAccess", "failed to trigger provisioning pipeline", err)
	}

	payload := map[string]any{
		"queued":     true,
		"user_email": userEmail,
		"services":   services,
	}
	if ccEmail != "" {
		payload["cc_email"] = ccEmail
	}
	return &castellan.AgentResult{Payload: payload}, nil
}
