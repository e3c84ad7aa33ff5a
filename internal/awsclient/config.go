// Package awsclient loads shared AWS SDK configuration for the S3, SQS and
// DynamoDB clients.
package awsclient

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/smithy-go"

	"github.com/polybot/yolo-service/internal/errors"
)

// maxAttempts caps SDK level retries per call. The queue consumer adds its own
// backoff on top, so a small number keeps failures visible.
const maxAttempts = 3

// LoadConfig resolves credentials and settings from the default chain
// (environment, shared config, instance role) for region.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	if strings.TrimSpace(region) == "" {
		return aws.Config{}, errors.Newf("aws region must not be empty").
			Component("awsclient").
			Category(errors.CategoryConfiguration).
			Build()
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), maxAttempts)
		}),
	)
	if err != nil {
		return aws.Config{}, errors.New(err).
			Component("awsclient").
			Category(errors.CategoryConfiguration).
			Context("region", region).
			Build()
	}
	return cfg, nil
}

// Endpoint returns a pointer for a non-empty endpoint override, nil otherwise.
// Service clients take it as BaseEndpoint.
func Endpoint(endpoint string) *string {
	if strings.TrimSpace(endpoint) == "" {
		return nil
	}
	return aws.String(endpoint)
}

// ErrorCode returns the service error code of an AWS API error, or "".
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsCode reports whether err is an AWS API error with one of codes.
func IsCode(err error, codes ...string) bool {
	code := ErrorCode(err)
	if code == "" {
		return false
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
