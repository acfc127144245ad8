// Package feedly reads article streams from the Feedly API behind the APIM gateway.
package feedly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"feedly-pipeline/internal/common/config"
	apperrors "feedly-pipeline/internal/common/errors"
	httpclient "feedly-pipeline/internal/common/http"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/models"

	"golang.org/x/time/rate"
)

const (
	subscriptionHeader = "Ocp-Apim-Subscription-Key"

	defaultCount       = 50
	defaultPageSize    = 20
	defaultMaxPages    = 50
	defaultMaxAttempts = 3
)

var ErrMissingBaseURL = errors.New("feedly base url is required")

// FetchOptions bounds one stream read.
type FetchOptions struct {
	Count     int
	NewerThan int64 // unix milliseconds
}

type streamPage struct {
	Items        []json.RawMessage `json:"items"`
	Continuation string            `json:"continuation"`
}

type Client struct {
	http        *httpclient.Client
	baseURL     string
	key         string
	streamID    string
	pageSize    int
	maxPages    int
	maxAttempts int
	retryDelay  time.Duration
	limiter     *rate.Limiter
	logger      logger.Logger
}

func NewClient(cfg config.FeedlyConfig, log logger.Logger) *Client {
	c := &Client{
		http:        httpclient.NewClient(config.GetDuration(cfg.Timeout)),
		baseURL:     cfg.BaseURL,
		key:         cfg.SubscriptionKey,
		streamID:    cfg.StreamID,
		pageSize:    cfg.PageSize,
		maxPages:    cfg.MaxPages,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  config.GetDuration(cfg.RetryDelay),
		logger:      log.WithFields(map[string]interface{}{"component": "feedly"}),
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.maxPages <= 0 {
		c.maxPages = defaultMaxPages
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}

	limit := rate.Inf
	if d := config.GetDuration(cfg.PageDelay); d > 0 {
		limit = rate.Every(d)
	}
	c.limiter = rate.NewLimiter(limit, 1)
	return c
}

// FetchStream reads up to opts.Count articles newer than opts.NewerThan,
// following continuation tokens.
func (c *Client) FetchStream(ctx context.Context, opts FetchOptions) ([]*models.Article, error) {
	if c.baseURL == "" {
		return nil, apperrors.NewSourceFetchFailedError(ErrMissingBaseURL)
	}
	count := opts.Count
	if count <= 0 {
		count = defaultCount
	}

	var articles []*models.Article
	continuation := ""
	for page := 0; page < c.maxPages && len(articles) < count; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperrors.NewSourceFetchFailedError(err)
		}

		size := count - len(articles)
		if size > c.pageSize {
			size = c.pageSize
		}

		sp, err := c.fetchPage(ctx, size, opts.NewerThan, continuation)
		if err != nil {
			return nil, err
		}

		for _, item := range sp.Items {
			a, err := models.ParseArticle(item)
			if err != nil {
				// forwarded as-is; enrich rejects it into the dead-letter queue
				loose, lerr := models.LooseArticle(item)
				if lerr != nil {
					c.logger.Warn("Skipping non-object item", map[string]interface{}{"error": lerr.Error()})
					continue
				}
				c.logger.Warn("Forwarding undecodable item", map[string]interface{}{
					"id":    loose.ID,
					"error": err.Error(),
				})
				a = loose
			}
			articles = append(articles, a)
		}

		c.logger.Debug("Fetched page", map[string]interface{}{
			"page":  page + 1,
			"items": len(sp.Items),
			"total": len(articles),
		})

		if sp.Continuation == "" || len(sp.Items) == 0 {
			break
		}
		continuation = sp.Continuation
	}

	if len(articles) > count {
		articles = articles[:count]
	}
	c.logger.Info("Stream fetched", map[string]interface{}{"streamId": c.streamID, "articles": len(articles)})
	return articles, nil
}

func (c *Client) fetchPage(ctx context.Context, size int, newerThan int64, continuation string) (*streamPage, error) {
	q := url.Values{}
	q.Set("streamId", c.streamID)
	q.Set("count", strconv.Itoa(size))
	q.Set("fullContent", "true")
	if newerThan > 0 {
		q.Set("newerThan", strconv.FormatInt(newerThan, 10))
	}
	if continuation != "" {
		q.Set("continuation", continuation)
	}
	endpoint := c.baseURL + "/feed?" + q.Encode()
	headers := map[string]string{subscriptionHeader: c.key}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		var sp streamPage
		err := c.http.GetJSON(ctx, endpoint, headers, &sp)
		if err == nil {
			return &sp, nil
		}
		lastErr = err

		if !retryable(ctx, err) || attempt == c.maxAttempts {
			break
		}

		wait := c.retryDelay * time.Duration(attempt)
		c.logger.Warn("Feedly request failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
		if err := sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	return nil, apperrors.NewSourceFetchFailedError(fmt.Errorf("fetch stream page: %w", lastErr))
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
