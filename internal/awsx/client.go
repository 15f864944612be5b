// Package awsx wraps the AWS collaborators the pipeline talks to: STS for
// the credential chain, ECR for the registry session, S3 for artifact
// retention, and the Inspector scan API.
package awsx

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/sirupsen/logrus"
)

// CredentialOptions describes the role chain for one pipeline run.
// Credentials are scoped to the run and never persisted: they live only in
// the returned aws.Config and expire on their own.
type CredentialOptions struct {
	// RoleARN is the initial role, assumed with the ambient identity. When
	// a web identity token is available the exchange uses
	// AssumeRoleWithWebIdentity (the OIDC path).
	RoleARN string
	// DeployRoleARN is the chained, higher-privilege role assumed with the
	// initial role's credentials.
	DeployRoleARN string
	// WebIdentityTokenFile overrides AWS_WEB_IDENTITY_TOKEN_FILE.
	WebIdentityTokenFile string
	// SessionName tags both assumed sessions, typically the run identifier.
	SessionName string
}

// NewSession loads AWS configuration for the region and establishes the
// two-step credential chain. Role assumption failure is fatal and happens
// here, before any registry interaction.
func NewSession(ctx context.Context, region string, opts CredentialOptions) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}

	sessionName := opts.SessionName
	if sessionName == "" {
		sessionName = "shipgate"
	}

	if opts.RoleARN != "" {
		tokenFile := opts.WebIdentityTokenFile
		if tokenFile == "" {
			tokenFile = os.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE")
		}

		if tokenFile != "" {
			logrus.Debugf("Assuming role %s via web identity token", opts.RoleARN)
			provider := stscreds.NewWebIdentityRoleProvider(
				sts.NewFromConfig(cfg),
				opts.RoleARN,
				stscreds.IdentityTokenFile(tokenFile),
				func(o *stscreds.WebIdentityRoleOptions) {
					o.RoleSessionName = sessionName
				},
			)
			cfg.Credentials = aws.NewCredentialsCache(provider)
		} else {
			logrus.Debugf("Assuming role %s with ambient credentials", opts.RoleARN)
			provider := stscreds.NewAssumeRoleProvider(
				sts.NewFromConfig(cfg),
				opts.RoleARN,
				func(o *stscreds.AssumeRoleOptions) {
					o.RoleSessionName = sessionName
				},
			)
			cfg.Credentials = aws.NewCredentialsCache(provider)
		}
	}

	if opts.DeployRoleARN != "" {
		// Chain: the second assumption is signed with the first role's
		// credentials, not the ambient identity.
		logrus.Debugf("Chaining into deployment role %s", opts.DeployRoleARN)
		provider := stscreds.NewAssumeRoleProvider(
			sts.NewFromConfig(cfg),
			opts.DeployRoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = sessionName
			},
		)
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	// Resolve the chain eagerly so credential failures abort the run now.
	if opts.RoleARN != "" || opts.DeployRoleARN != "" {
		if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
			return aws.Config{}, fmt.Errorf("role assumption failed: %w", err)
		}
	}

	return cfg, nil
}

// CallerIdentity returns the ARN of the identity the config resolves to.
func CallerIdentity(ctx context.Context, cfg aws.Config) (string, error) {
	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(out.Arn), nil
}
