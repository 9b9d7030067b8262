package signalling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/signal-client/pkg/telemetry/prometheus"
	"github.com/livekit/signal-client/pkg/utils"
)

const (
	DefaultMaxPublishAttempts = 5
	DefaultPublishBase        = 100 * time.Millisecond
	DefaultPublishMax         = 5 * time.Second
	DefaultPublishJitter      = 50 * time.Millisecond

	publishRequestTimeout = 10 * time.Second
)

type HTTPPublisherParams struct {
	URL         string
	Token       string
	MaxAttempts int
	BackOff     utils.JitterBackOffConfig
	Client      *http.Client
	Logger      logger.Logger
}

// HTTPPublisher posts updates to the signaling server, retrying server errors
// with backoff. Client errors are not retried.
type HTTPPublisher struct {
	params HTTPPublisherParams
}

var _ UpdatePublisher = (*HTTPPublisher)(nil)

func NewHTTPPublisher(params HTTPPublisherParams) *HTTPPublisher {
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = DefaultMaxPublishAttempts
	}
	if params.BackOff.Base <= 0 {
		params.BackOff = utils.JitterBackOffConfig{
			Base:   DefaultPublishBase,
			Factor: 2,
			Max:    DefaultPublishMax,
			Jitter: DefaultPublishJitter,
		}
	}
	if params.Client == nil {
		params.Client = &http.Client{Timeout: publishRequestTimeout}
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &HTTPPublisher{params: params}
}

func (p *HTTPPublisher) Publish(ctx context.Context, msg *Message) error {
	if p.params.URL == "" {
		return ErrPublishURLMissing
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(utils.NonNegative(utils.NewJitterBackOff(p.params.BackOff)), uint64(p.params.MaxAttempts-1)),
		ctx,
	)
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		return p.post(ctx, body, attempt)
	}, b)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPublishRejected), ctx.Err() != nil:
		return err
	default:
		p.params.Logger.Warnw("publish attempts exhausted", err, "attempts", attempt)
		return errors.Wrap(ErrPublishExhausted, err.Error())
	}
}

func (p *HTTPPublisher) post(ctx context.Context, body []byte, attempt int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.params.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.params.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.params.Token)
	}

	resp, err := p.params.Client.Do(req)
	if err != nil {
		prometheus.IncrementPublishAttempt("retry")
		p.params.Logger.Debugw("publish failed", "attempt", attempt, "error", err)
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		prometheus.IncrementPublishAttempt("success")
		return nil
	case resp.StatusCode < 500:
		prometheus.IncrementPublishAttempt("rejected")
		return backoff.Permanent(errors.Wrapf(ErrPublishRejected, "status %d", resp.StatusCode))
	default:
		prometheus.IncrementPublishAttempt("retry")
		p.params.Logger.Debugw("publish failed", "attempt", attempt, "status", resp.StatusCode)
		return fmt.Errorf("server error %d", resp.StatusCode)
	}
}
