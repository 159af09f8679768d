package objstore

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/fruitsalade/studiovault/internal/retry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      error
		retryable bool
	}{
		{"no such key type", &types.NoSuchKey{}, ErrNotFound, false},
		{"not found type", &types.NotFound{}, ErrNotFound, false},
		{"no such bucket", &types.NoSuchBucket{}, ErrBucketNotFound, false},
		{"access denied code", &smithy.GenericAPIError{Code: "AccessDenied"}, ErrAccessDenied, false},
		{"bad key id", &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}, ErrAccessDenied, false},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, ErrTransient, true},
		{"internal error", &smithy.GenericAPIError{Code: "InternalError"}, ErrTransient, true},
		{"dial error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, ErrTransient, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("get", "k", tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.Equal(t, tt.retryable, retry.IsRetryable(got))
		})
	}
}

func TestClassifyPassesThroughContextErrors(t *testing.T) {
	assert.Equal(t, context.Canceled, classify("get", "k", context.Canceled))
	assert.Nil(t, classify("get", "k", nil))
}

func TestIsAlreadyExists(t *testing.T) {
	assert.True(t, isAlreadyExists(&types.BucketAlreadyOwnedByYou{}))
	assert.True(t, isAlreadyExists(&smithy.GenericAPIError{Code: "BucketAlreadyExists"}))
	assert.False(t, isAlreadyExists(&smithy.GenericAPIError{Code: "AccessDenied"}))
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "http://minio:9000", normalizeEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normalizeEndpoint("minio:9000", true))
	assert.Equal(t, "https://s3.example.com", normalizeEndpoint(" https://s3.example.com ", false))
	assert.Equal(t, "", normalizeEndpoint("", true))
}
