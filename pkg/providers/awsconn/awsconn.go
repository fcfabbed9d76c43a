// Package awsconn builds the shared AWS SDK configuration used by the
// DynamoDB store and the CloudFormation and EventBridge providers.
package awsconn

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Options selects how the AWS configuration is resolved. All fields are
// optional; the SDK's default chain fills in the rest.
type Options struct {
	// Region overrides the resolved region.
	Region string

	// Profile selects a shared config profile.
	Profile string

	// AccessKeyID and SecretAccessKey pin static credentials. Both must be
	// set together; this is intended for local emulators, not production.
	AccessKeyID     string
	SecretAccessKey string
}

// Load resolves an AWS configuration from the default chain plus the
// given overrides.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error

	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" || opts.SecretAccessKey != "" {
		if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
			return aws.Config{}, fmt.Errorf("static credentials require both access key id and secret")
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return cfg, nil
}
