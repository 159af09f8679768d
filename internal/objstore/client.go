package objstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/logging"
	"github.com/fruitsalade/studiovault/internal/metrics"
	"github.com/fruitsalade/studiovault/internal/retry"
)

// Health is the reachability state of the primary store.
type Health int32

const (
	Available Health = iota
	Degraded
)

func (h Health) String() string {
	if h == Degraded {
		return "degraded"
	}
	return "available"
}

// ClientOptions configure a Client.
type ClientOptions struct {
	// Fallback services calls while the primary is degraded. Nil means
	// degraded calls fail with ErrUnavailable.
	Fallback Store
	// RetryBackoff is the fixed wait before the single retry.
	RetryBackoff time.Duration
}

// Client is the Store the rest of studiovault talks to. It applies the
// retry policy, tracks primary health, and routes to the fallback when
// the primary is degraded.
//
// Health changes only in Probe and after a call fails with an access error.
type Client struct {
	primary  Store
	fallback Store
	policy   retry.Config
	health   atomic.Int32
}

// NewClient wraps primary. The client starts Available; call Probe before
// serving traffic.
func NewClient(primary Store, opts ClientOptions) *Client {
	return &Client{
		primary:  primary,
		fallback: opts.Fallback,
		policy:   retry.Once(opts.RetryBackoff),
	}
}

// Health returns the current health state.
func (c *Client) Health() Health {
	return Health(c.health.Load())
}

// Durable reports whether writes land on the primary store.
func (c *Client) Durable() bool {
	return c.Health() == Available
}

// Probe checks primary connectivity (provisioning the bucket when the
// primary supports it) and sets health accordingly. It returns
// ErrUnavailable only when the primary is unreachable and no fallback is
// configured.
func (c *Client) Probe(ctx context.Context) error {
	prober, ok := c.primary.(Prober)
	if !ok {
		c.setHealth(Available, nil)
		return nil
	}

	err := retry.Do(ctx, c.policy, c.onRetry("probe"), func() error {
		return prober.Probe(ctx)
	})
	if err == nil {
		c.setHealth(Available, nil)
		return nil
	}

	c.setHealth(Degraded, err)
	if c.fallback == nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) setHealth(h Health, cause error) {
	prev := Health(c.health.Swap(int32(h)))
	metrics.SetStoreDegraded(h == Degraded)
	if prev == h {
		return
	}
	if h == Degraded {
		fields := []zap.Field{zap.String("primary", c.primary.Type()), zap.Error(cause)}
		if c.fallback != nil {
			fields = append(fields, zap.String("fallback", c.fallback.Type()))
		}
		logging.Warn("object store degraded, writes are non-durable", fields...)
		return
	}
	logging.Info("object store available", zap.String("primary", c.primary.Type()))
}

func (c *Client) onRetry(op string) func(int, error) {
	return func(attempt int, err error) {
		metrics.RecordStoreRetry(op)
		logging.Debug("retrying store operation",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
}

// route picks the store for the next call.
func (c *Client) route() (Store, bool, error) {
	if c.Health() == Available {
		return c.primary, false, nil
	}
	if c.fallback == nil {
		return nil, false, ErrUnavailable
	}
	return c.fallback, true, nil
}

// observe demotes the primary on credential or permission errors. The
// failing call still returns its error: it was aimed at the primary and
// must not silently succeed against the fallback.
func (c *Client) observe(onFallback bool, err error) {
	if err != nil && !onFallback && errors.Is(err, ErrAccessDenied) {
		c.setHealth(Degraded, err)
	}
}

// Put writes through the active store.
func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) (string, error) {
	s, fb, err := c.route()
	if err != nil {
		return "", err
	}
	out, err := retry.DoWithResult(ctx, c.policy, c.onRetry("put"), func() (string, error) {
		return s.Put(ctx, key, body, contentType, metadata)
	})
	c.observe(fb, err)
	return out, err
}

// Get reads from the active store. Objects served by the fallback are
// marked NonDurable.
func (c *Client) Get(ctx context.Context, key string) (*Object, error) {
	s, fb, err := c.route()
	if err != nil {
		return nil, err
	}
	obj, err := retry.DoWithResult(ctx, c.policy, c.onRetry("get"), func() (*Object, error) {
		return s.Get(ctx, key)
	})
	c.observe(fb, err)
	if obj != nil && fb {
		obj.NonDurable = true
	}
	return obj, err
}

// Delete removes key from the active store. Absent keys succeed.
func (c *Client) Delete(ctx context.Context, key string) error {
	s, fb, err := c.route()
	if err != nil {
		return err
	}
	err = retry.Do(ctx, c.policy, c.onRetry("delete"), func() error {
		return s.Delete(ctx, key)
	})
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	c.observe(fb, err)
	return err
}

// Head checks existence on the active store.
func (c *Client) Head(ctx context.Context, key string) (bool, error) {
	s, fb, err := c.route()
	if err != nil {
		return false, err
	}
	ok, err := retry.DoWithResult(ctx, c.policy, c.onRetry("head"), func() (bool, error) {
		return s.Head(ctx, key)
	})
	c.observe(fb, err)
	return ok, err
}

// List lists the active store.
func (c *Client) List(ctx context.Context, prefix string) ([]ObjectSummary, error) {
	s, fb, err := c.route()
	if err != nil {
		return nil, err
	}
	out, err := retry.DoWithResult(ctx, c.policy, c.onRetry("list"), func() ([]ObjectSummary, error) {
		return s.List(ctx, prefix)
	})
	c.observe(fb, err)
	return out, err
}

// Presign signs against the active store.
func (c *Client) Presign(ctx context.Context, key string, ttl time.Duration, opts PresignOptions) (string, error) {
	s, fb, err := c.route()
	if err != nil {
		return "", err
	}
	url, err := s.Presign(ctx, key, ttl, opts)
	c.observe(fb, err)
	return url, err
}

// Type reports the active backend.
func (c *Client) Type() string {
	s, _, err := c.route()
	if err != nil {
		return c.primary.Type()
	}
	return s.Type()
}
