// Package agents contains the built-in capability providers. Each agent wraps
// one external system, translates its failures into *castellan.AgentError,
// and returns every payload inside the AgentResult envelope.
package agents

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/internal/config"
	"github.com/castellan-ai/castellan/internal/logging"
)

// Setup constructs the full default agent set from configuration. Agents are
// built unconditionally; one without credentials fails at call time, not at
// startup, so a deployment that only uses source control does not need cloud
// credentials.
func Setup(ctx context.Context, cfg config.AgentsConfig, logger logging.Logger) ([]castellan.Agent, error) {
	awsOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.CloudInfra.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.CloudInfra.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, castellan.NewConfigurationError("failed to load cloud credentials", err)
	}

	return []castellan.Agent{
		NewSourceControl(SourceControlConfig{
			BaseURL: cfg.SourceControl.BaseURL,
			Token:   cfg.SourceControl.Token,
			Timeout: cfg.SourceControl.Timeout,
		}, logger),
		NewCloudInfra(awsCfg, logger),
		NewIssueTracker(IssueTrackerConfig{
			BaseURL:  cfg.IssueTracker.BaseURL,
			Username: cfg.IssueTracker.Username,
			APIToken: cfg.IssueTracker.APIToken,
			Timeout:  cfg.IssueTracker.Timeout,
		}, logger),
		NewCIRunner(CIRunnerConfig{
			BaseURL:        cfg.CIRunner.BaseURL,
			JobPath:        cfg.CIRunner.JobPath,
			Username:       cfg.CIRunner.Username,
			APIToken:       cfg.CIRunner.APIToken,
			DefaultCCEmail: cfg.CIRunner.DefaultCCEmail,
			Timeout:        cfg.CIRunner.Timeout,
		}, logger),
		NewDirectory(DirectoryConfig{
			BaseURL: cfg.Directory.BaseURL,
			Tokens:  StaticToken(cfg.Directory.Token),
			Timeout: cfg.Directory.Timeout,
		}, logger),
	}, nil
}
