package agents

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/internal/logging"
)

func TestProvisionAccessFlow(t *testing.T) {
	var gotCrumb string
	var gotForm url.Values

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/crumbIssuer/api/json":
			w.Write([]byte(`{"crumb": "c-123", "crumbRequestField": "Jenkins-Crumb"}`))
		case "/job/Devops/job/ProvideAccess/buildWithParameters":
			gotCrumb = r.Header.Get("Jenkins-Crumb")
			body, _ := io.ReadAll(r.Body)
			gotForm, _ = url.ParseQuery(string(body))
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	agent := NewCIRunner(CIRunnerConfig{
		BaseURL:        server.URL,
		JobPath:        "job/Devops/job/ProvideAccess",
		Username:       "svc",
		APIToken:       "token",
		DefaultCCEmail: "platform-leads@acme.example",
	}, logging.Nop{})

	result, err := agent.provisionAccess(context.Background(), map[string]any{
		"user_email": "new.dev@acme.example",
		"services":   []string{"AWS", "GitHub"},
		"iam_group":  "AppBackend",
	})
	require.NoError(t, err)

	assert.Equal(t, "c-123", gotCrumb)
	assert.Equal(t, "new.dev@acme.example", gotForm.Get("USER_EMAIL"))
	assert.Equal(t, "AWS,GitHub", gotForm.Get("SERVICES"))
	assert.Equal(t, "platform-leads@acme.example", gotForm.Get("CC_EMAIL"))
	assert.Equal(t, "AppBackend", gotForm.Get("IAM_GROUP"))

	payload := result.Payload.(map[string]any)
	assert.Equal(t, true, payload["queued"])
}

func TestProvisionAccessCCOverride(t *testing.T) {
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/crumbIssuer/api/json" {
			w.Write([]byte(`{"crumb": "c", "crumbRequestField": "Jenkins-Crumb"}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	agent := NewCIRunner(CIRunnerConfig{
		BaseURL:        server.URL,
		JobPath:        "job/ProvideAccess",
		DefaultCCEmail: "platform-leads@acme.example",
	}, logging.Nop{})

	_, err := agent.provisionAccess(context.Background(), map[string]any{
		"user_email": "new.dev@acme.example",
		"services":   []string{"Database"},
		"cc_email":   "manager@acme.example",
	})
	require.NoError(t, err)
	assert.Equal(t, "manager@acme.example", gotForm.Get("CC_EMAIL"))
}

func TestProvisionAccessRejectsBadEmail(t *testing.T) {
	agent := NewCIRunner(CIRunnerConfig{BaseURL: "http://unused.invalid"}, logging.Nop{})

	_, err := agent.provisionAccess(context.Background(), map[string]any{
		"user_email": "not-an-email",
		"services":   []string{"AWS"},
	})
	require.Error(t, err)
	agentErr, ok := castellan.AsAgentError(err)
	require.True(t, ok)
	assert.Equal(t, ciRunnerName, agentErr.Agent)
}
