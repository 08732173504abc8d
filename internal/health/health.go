// Package health probes the deployed service after a restart. Probes are
// bounded by construction: a fixed attempt budget with a constant interval
// and a per-request timeout, so a service that never comes up fails the
// check instead of hanging the run.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// maxBodyBytes bounds how much of a response body a probe reads.
const maxBodyBytes = 5120

// Check is one health probe against the running service.
type Check interface {
	// Check performs a single probe attempt.
	Check(ctx context.Context) error

	// String describes the probe for logs and errors.
	String() string
}

// BodyContains passes when a GET of URL returns 200 and the body contains
// Token. Used for the liveness endpoint.
type BodyContains struct {
	URL   string
	Token string
}

func (c *BodyContains) Check(ctx context.Context) error {
	body, err := get(ctx, c.URL)
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), c.Token) {
		return fmt.Errorf("%s: body does not contain %q", c.URL, c.Token)
	}
	return nil
}

func (c *BodyContains) String() string {
	return fmt.Sprintf("GET %s contains %q", c.URL, c.Token)
}

// JSONField passes when a GET of URL returns 200 and the JSON body carries
// a non-empty value for Field. Used for the functional endpoint.
type JSONField struct {
	URL   string
	Field string
}

func (c *JSONField) Check(ctx context.Context) error {
	body, err := get(ctx, c.URL)
	if err != nil {
		return err
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%s: response is not JSON: %w", c.URL, err)
	}
	value, ok := payload[c.Field]
	if !ok {
		return fmt.Errorf("%s: response has no %q field", c.URL, c.Field)
	}
	if s, isString := value.(string); isString && s == "" {
		return fmt.Errorf("%s: %q field is empty", c.URL, c.Field)
	}
	return nil
}

func (c *JSONField) String() string {
	return fmt.Sprintf("GET %s has %q", c.URL, c.Field)
}

func get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return body, nil
}

// Poller retries a Check on a constant interval until it passes or the
// attempt budget is spent.
type Poller struct {
	// Attempts is the total probe budget; at least one attempt is made.
	Attempts int

	// Interval separates attempts.
	Interval time.Duration

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// Logger reports each failed attempt at debug level. Nil disables.
	Logger *zap.Logger
}

// Wait runs the check until it passes. It returns the last probe error when
// the budget is exhausted or the context is cancelled.
func (p *Poller) Wait(ctx context.Context, check Check) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	attempt := 0
	operation := func() error {
		attempt++
		probeCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			probeCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		err := check.Check(probeCtx)
		if err != nil {
			logger.Debug("health probe failed",
				zap.String("check", check.String()),
				zap.Int("attempt", attempt),
				zap.Int("budget", attempts),
				zap.Error(err))
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("%s: %w", check.String(), err)
	}
	return nil
}
