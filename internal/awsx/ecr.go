package awsx

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/sirupsen/logrus"
)

// RegistrySession is a short-lived ECR login: the endpoint composes image
// references, the credentials feed the builder's login.
type RegistrySession struct {
	Endpoint  string // registry host, e.g. 123456789012.dkr.ecr.us-east-1.amazonaws.com
	Username  string
	Password  string
	ExpiresAt time.Time
}

// AuthorizeRegistry exchanges the chained credentials for an ECR
// authorization token.
func AuthorizeRegistry(ctx context.Context, cfg aws.Config) (*RegistrySession, error) {
	client := ecr.NewFromConfig(cfg)
	out, err := client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get ECR authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return nil, errors.New("ECR returned no authorization data")
	}

	data := out.AuthorizationData[0]
	username, password, err := DecodeAuthorizationToken(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return nil, err
	}

	session := &RegistrySession{
		Endpoint: strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://"),
		Username: username,
		Password: password,
	}
	if data.ExpiresAt != nil {
		session.ExpiresAt = *data.ExpiresAt
	}

	logrus.Debugf("ECR session for %s valid until %s", session.Endpoint, session.ExpiresAt)
	return session, nil
}

// DecodeAuthorizationToken splits a base64 "user:password" ECR token.
func DecodeAuthorizationToken(token string) (username, password string, err error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("invalid ECR authorization token: %w", err)
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", errors.New("invalid ECR authorization token: missing separator")
	}
	return parts[0], parts[1], nil
}

// EnsureRepository creates the target repository if it does not exist yet.
// Image tags stay mutable ("latest") alongside immutable commit tags, so tag
// immutability is left off.
func EnsureRepository(ctx context.Context, cfg aws.Config, name string) error {
	client := ecr.NewFromConfig(cfg)

	_, err := client.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err == nil {
		return nil
	}

	var notFound *ecrtypes.RepositoryNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe repository %s: %w", name, err)
	}

	logrus.Debugf("Repository %s not found, creating", name)
	_, err = client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(name),
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
			ScanOnPush: false,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create repository %s: %w", name, err)
	}
	return nil
}
