package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/fruitsalade/studiovault/internal/retry"
)

var (
	notFoundCodes = map[string]bool{
		"NoSuchKey": true, "NotFound": true, "404": true,
	}
	bucketMissingCodes = map[string]bool{
		"NoSuchBucket": true,
	}
	accessDeniedCodes = map[string]bool{
		"AccessDenied": true, "InvalidAccessKeyId": true, "SignatureDoesNotMatch": true,
		"Forbidden": true, "403": true, "ExpiredToken": true, "InvalidToken": true,
	}
	transientCodes = map[string]bool{
		"SlowDown": true, "ServiceUnavailable": true, "InternalError": true,
		"RequestTimeout": true, "RequestTimeTooSkewed": true, "Throttling": true,
		"500": true, "502": true, "503": true, "504": true,
	}
	alreadyExistsCodes = map[string]bool{
		"BucketAlreadyOwnedByYou": true, "BucketAlreadyExists": true,
	}
)

// classify maps an SDK error onto the store taxonomy. Transient errors are
// additionally marked retryable.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var nsb *types.NoSuchBucket
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf):
		return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	case errors.As(err, &nsb):
		return fmt.Errorf("%s %s: %w", op, key, ErrBucketNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case notFoundCodes[code]:
			return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
		case bucketMissingCodes[code]:
			return fmt.Errorf("%s %s: %w", op, key, ErrBucketNotFound)
		case accessDeniedCodes[code]:
			return fmt.Errorf("%s %s: %w: %w", op, key, ErrAccessDenied, err)
		case transientCodes[code]:
			return retry.Retryable(fmt.Errorf("%s %s: %w: %w", op, key, ErrTransient, err))
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		switch {
		case status == 404:
			return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
		case status == 401 || status == 403:
			return fmt.Errorf("%s %s: %w: %w", op, key, ErrAccessDenied, err)
		case status == 429 || status >= 500:
			return retry.Retryable(fmt.Errorf("%s %s: %w: %w", op, key, ErrTransient, err))
		}
	}

	if isNetworkError(err) {
		return retry.Retryable(fmt.Errorf("%s %s: %w: %w", op, key, ErrTransient, err))
	}

	return fmt.Errorf("%s %s: %w", op, key, err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func isAlreadyExists(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && alreadyExistsCodes[apiErr.ErrorCode()]
}
