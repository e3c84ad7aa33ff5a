package awsclient

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybot/yolo-service/internal/errors"
)

func TestErrorCode(t *testing.T) {
	t.Parallel()

	apiErr := &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	wrapped := fmt.Errorf("operation error S3: GetObject: %w", apiErr)

	assert.Equal(t, "NoSuchKey", ErrorCode(wrapped))
	assert.True(t, IsCode(wrapped, "NotFound", "NoSuchKey"))
	assert.False(t, IsCode(wrapped, "AccessDenied"))
	assert.Empty(t, ErrorCode(fmt.Errorf("plain")))
	assert.False(t, IsCode(nil, "NoSuchKey"))
}

func TestEndpoint(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Endpoint(""))
	assert.Nil(t, Endpoint("  "))
	require.NotNil(t, Endpoint("http://localhost:4566"))
	assert.Equal(t, "http://localhost:4566", *Endpoint("http://localhost:4566"))
}

func TestLoadConfigRequiresRegion(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestLoadConfigSetsRegion(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")

	cfg, err := LoadConfig(context.Background(), "eu-north-1")
	require.NoError(t, err)
	assert.Equal(t, "eu-north-1", cfg.Region)
}
