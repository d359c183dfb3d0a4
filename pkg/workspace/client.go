// Package workspace is the read-only adapter over the external content API
// that stores client records.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/ratelimit"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const defaultPageSize = 100

// Config holds workspace API client configuration
type Config struct {
	BaseURL  string
	Token    string
	Version  string
	PageSize int
}

// Client talks to the workspace content API.
type Client struct {
	cfg    Config
	http   *httpclient.Client
	clock  ratelimit.Clock
	pacer  ratelimit.Pacer
	logger ectologger.Logger
}

// NewClient creates a new workspace API client. The pacer spaces out page
// fetches on paginated reads; the clock drives the single Retry-After wait
// on rate limited responses.
func NewClient(cfg Config, http *httpclient.Client, clock ratelimit.Clock, pacer ratelimit.Pacer, logger ectologger.Logger) *Client {
	if cfg.PageSize <= 0 || cfg.PageSize > defaultPageSize {
		cfg.PageSize = defaultPageSize
	}
	return &Client{
		cfg:    cfg,
		http:   http,
		clock:  clock,
		pacer:  pacer,
		logger: logger,
	}
}

// GetRecord fetches a single record by id. Archived and trashed records
// report NotFound, the same as a 404: the source considers them absent.
func (c *Client) GetRecord(ctx context.Context, id string) (*models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "workspace.Client.GetRecord")
	defer span.End()

	record, err := c.fetchRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.IsGone() {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "record %s does not exist", id)
	}
	return record, nil
}

// GetAnyRecord fetches a record even when the source has archived or trashed
// it. The source keeps serving the body of a gone record, which the deletion
// path needs to identify an entity that never had its reference recorded.
func (c *Client) GetAnyRecord(ctx context.Context, id string) (*models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "workspace.Client.GetAnyRecord")
	defer span.End()

	return c.fetchRecord(ctx, id)
}

func (c *Client) fetchRecord(ctx context.Context, id string) (*models.SourceRecord, error) {
	url := fmt.Sprintf("%s/v1/records/%s", c.cfg.BaseURL, id)
	resp, err := c.do(ctx, "get_record", func() (*httpclient.Response, error) {
		return c.http.Get(ctx, url, c.headers())
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "record %s does not exist", id)
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, c.statusError(ctx, "get_record", resp)
	}

	var record models.SourceRecord
	if err := json.Unmarshal(resp.Body, &record); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("record_id", id).Error("failed to decode record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode workspace record")
	}

	return &record, nil
}

// QueryCollection lists the records of a collection in source order. When
// modifiedAfter is set only records edited on or after that instant are
// returned. Pages are fetched with the injected pacer between requests.
func (c *Client) QueryCollection(ctx context.Context, collectionID string, modifiedAfter *time.Time) ([]models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "workspace.Client.QueryCollection")
	defer span.End()

	url := fmt.Sprintf("%s/v1/collections/%s/query", c.cfg.BaseURL, collectionID)

	var records []models.SourceRecord
	cursor := ""
	for {
		reqBody := queryRequest{
			PageSize:    c.cfg.PageSize,
			StartCursor: cursor,
		}
		if modifiedAfter != nil {
			reqBody.Filter = &queryFilter{
				Timestamp: "last_edited_time",
				LastEditedTime: &timeCondition{
					OnOrAfter: modifiedAfter.UTC().Format(time.RFC3339),
				},
			}
		}

		body, err := json.Marshal(reqBody)
		if err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode collection query")
		}

		resp, err := c.do(ctx, "query_collection", func() (*httpclient.Response, error) {
			return c.http.Post(ctx, url, body, c.headers())
		})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "collection %s does not exist", collectionID)
		}
		if !httpclient.IsSuccessStatus(resp.StatusCode) {
			return nil, c.statusError(ctx, "query_collection", resp)
		}

		var page queryResponse
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("collection_id", collectionID).Error("failed to decode collection page")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode workspace collection page")
		}

		for _, record := range page.Results {
			if record.IsGone() {
				c.logger.WithContext(ctx).WithField("record_id", record.ID).Debug("skipping archived record")
				continue
			}
			records = append(records, record)
		}

		if !page.HasMore || page.NextCursor == "" {
			return records, nil
		}
		cursor = page.NextCursor

		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// do executes a request and honours a Retry-After once on 429 before
// classifying the second rejection as transient.
func (c *Client) do(ctx context.Context, operation string, call func() (*httpclient.Response, error)) (*httpclient.Response, error) {
	resp, err := c.call(ctx, operation, call)
	if err != nil {
		return nil, err
	}

	if httpclient.IsRateLimitStatus(resp.StatusCode) {
		wait := c.retryAfter(resp)
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"operation":   operation,
			"retry_after": wait,
		}).Warn("workspace api rate limited, retrying once")

		if err := c.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}

		resp, err = c.call(ctx, operation, call)
		if err != nil {
			return nil, err
		}
		if httpclient.IsRateLimitStatus(resp.StatusCode) {
			return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "workspace api rate limit persisted after retry")
		}
	}

	return resp, nil
}

func (c *Client) call(ctx context.Context, operation string, call func() (*httpclient.Response, error)) (*httpclient.Response, error) {
	resp, err := call()
	if err != nil {
		metrics.RecordWorkspaceRequest(operation, "error", 0)
		return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "workspace api unreachable")
	}

	metrics.RecordWorkspaceRequest(operation, strconv.Itoa(resp.StatusCode), resp.Duration.Seconds())
	return resp, nil
}

func (c *Client) statusError(ctx context.Context, operation string, resp *httpclient.Response) error {
	c.logger.WithContext(ctx).WithFields(map[string]any{
		"operation": operation,
		"status":    resp.StatusCode,
	}).Error("workspace api request failed")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return httperror.NewHTTPError(resp.StatusCode, "workspace api rejected credentials")
	case httpclient.IsRetryableStatus(resp.StatusCode):
		return httperror.NewHTTPErrorf(http.StatusServiceUnavailable, "workspace api returned %d", resp.StatusCode)
	default:
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "workspace api rejected the request with %d", resp.StatusCode)
	}
}

func (c *Client) retryAfter(resp *httpclient.Response) time.Duration {
	const (
		defaultWait = time.Second
		maxWait     = 30 * time.Second
	)

	value, ok := resp.Headers["Retry-After"]
	if !ok {
		return defaultWait
	}
	wait, err := ratelimit.ParseRetryAfter(value)
	if err != nil || wait <= 0 {
		return defaultWait
	}
	if wait > maxWait {
		return maxWait
	}
	return wait
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization":     "Bearer " + c.cfg.Token,
		"Workspace-Version": c.cfg.Version,
	}
}

// IsNotFound reports whether the error means the source says the record is gone.
func IsNotFound(err error) bool {
	return httperror.GetStatusCode(err) == http.StatusNotFound
}

// IsTransient reports whether the error is a temporary upstream failure.
func IsTransient(err error) bool {
	return httperror.GetStatusCode(err) == http.StatusServiceUnavailable
}

type queryRequest struct {
	PageSize    int          `json:"page_size,omitempty"`
	StartCursor string       `json:"start_cursor,omitempty"`
	Filter      *queryFilter `json:"filter,omitempty"`
}

type queryFilter struct {
	Timestamp      string         `json:"timestamp"`
	LastEditedTime *timeCondition `json:"last_edited_time,omitempty"`
}

type timeCondition struct {
	OnOrAfter string `json:"on_or_after,omitempty"`
}

type queryResponse struct {
	Results    []models.SourceRecord `json:"results"`
	HasMore    bool                  `json:"has_more"`
	NextCursor string                `json:"next_cursor"`
}
