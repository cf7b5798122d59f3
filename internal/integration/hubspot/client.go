package hubspot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/flexprice/billsync/internal/config"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/httpclient"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/retry"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HubSpotClient defines the interface for the HubSpot CRM operations the billing engine needs
type HubSpotClient interface {
	VerifyWebhookSignatureV3(method string, uri string, requestBody []byte, timestamp string, signature string) bool

	// Objects
	GetObject(ctx context.Context, objectType ObjectType, id string, properties []string) (*Object, error)
	BatchRead(ctx context.Context, objectType ObjectType, ids []string, properties []string) ([]Object, error)
	Search(ctx context.Context, objectType ObjectType, req SearchRequest) (*SearchResponse, error)
	SearchAll(ctx context.Context, objectType ObjectType, req SearchRequest) ([]Object, error)
	UpdateObject(ctx context.Context, objectType ObjectType, id string, properties map[string]string) error
	BatchCreate(ctx context.Context, objectType ObjectType, inputs []CreateInput) ([]Object, error)
	BatchUpdate(ctx context.Context, objectType ObjectType, inputs []UpdateInput) ([]Object, error)
	BatchArchive(ctx context.Context, objectType ObjectType, ids []string) error

	// Associations
	ListAssociations(ctx context.Context, fromType ObjectType, fromID string, toType ObjectType) ([]string, error)

	// Schema
	GetProperties(ctx context.Context, objectType ObjectType) (map[string]bool, error)
	InvalidateSchema()
}

// Client is the HubSpot REST client. Every call goes through the rate limiter
// and the retry state machine.
type Client struct {
	baseURL      string
	accessToken  string
	clientSecret string
	httpClient   httpclient.Client
	limiter      *rate.Limiter
	retrier      *retry.Retrier
	schema       *schemaCache
	logger       *logger.Logger
}

// NewClient creates a new HubSpot client
func NewClient(
	cfg *config.Configuration,
	httpClient httpclient.Client,
	retrier *retry.Retrier,
	logger *logger.Logger,
) HubSpotClient {
	limit := rate.Inf
	if cfg.HubSpot.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.HubSpot.RequestsPerSecond)
	}
	burst := cfg.HubSpot.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.HubSpot.BaseURL, "/"),
		accessToken:  cfg.HubSpot.AccessToken,
		clientSecret: cfg.HubSpot.ClientSecret,
		httpClient:   httpClient,
		limiter:      rate.NewLimiter(limit, burst),
		retrier:      retrier,
		schema:       newSchemaCache(cfg.HubSpot.SchemaCacheTTL),
		logger:       logger,
	}
}

// VerifyWebhookSignatureV3 verifies the HubSpot webhook signature (v3 format)
// v3 format: Base64(HMAC-SHA256(clientSecret, method + uri + body + timestamp))
func (c *Client) VerifyWebhookSignatureV3(method string, uri string, requestBody []byte, timestamp string, signature string) bool {
	if signature == "" || c.clientSecret == "" {
		return false
	}

	sourceString := method + uri + string(requestBody) + timestamp

	mac := hmac.New(sha256.New, []byte(c.clientSecret))
	mac.Write([]byte(sourceString))
	computedSignature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	isValid := hmac.Equal([]byte(computedSignature), []byte(signature))
	if !isValid {
		c.logger.Warnw("webhook signature verification failed",
			"source_string_length", len(sourceString))
	}

	return isValid
}

// do sends one request and decodes the response into out (when not nil).
// 404 is marked ErrNotFound and 429 ErrRateLimited; the http error stays in the chain for the retry classifier.
func (c *Client) do(ctx context.Context, op string, method string, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return ierr.WithError(err).
				WithHintf("failed to encode %s request", op).
				Mark(ierr.ErrInternal)
		}
	}

	req := &httpclient.Request{
		Method: method,
		URL:    c.baseURL + path,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.accessToken,
			"Accept":        "application/json",
		},
		Body: payload,
	}

	var resp *httpclient.Response
	err := c.retrier.Do(ctx, op, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var sendErr error
		resp, sendErr = c.httpClient.Send(ctx, req)
		return sendErr
	})
	if err != nil {
		return c.wrapError(op, path, err)
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		c.logger.Errorw("failed to decode hubspot response",
			"operation", op,
			"path", path,
			"error", err)
		return ierr.WithError(err).
			WithHintf("failed to decode %s response", op).
			Mark(ierr.ErrInternal)
	}
	return nil
}

func (c *Client) wrapError(op, path string, err error) error {
	httpErr, ok := httpclient.IsHTTPError(err)
	if !ok {
		c.logger.Errorw("http client error calling hubspot",
			"operation", op,
			"path", path,
			"error", err)
		return ierr.WithError(err).
			WithHint("Check HubSpot API connectivity and access token").
			Mark(ierr.ErrHTTPClient)
	}

	c.logger.Errorw("hubspot api error",
		"operation", op,
		"path", path,
		"status_code", httpErr.StatusCode,
		"body", string(httpErr.Response))

	builder := ierr.WithError(err).
		WithHintf("HubSpot API returned status %d for %s", httpErr.StatusCode, op).
		WithReportableDetails(map[string]any{
			"operation":   op,
			"status_code": httpErr.StatusCode,
		})
	switch httpErr.StatusCode {
	case http.StatusNotFound:
		return builder.Mark(ierr.ErrNotFound)
	case http.StatusTooManyRequests:
		return builder.Mark(ierr.ErrRateLimited)
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return builder.Mark(ierr.ErrValidation)
	default:
		return builder.Mark(ierr.ErrHTTPClient)
	}
}

func objectPath(objectType ObjectType, suffix ...string) string {
	parts := append([]string{"/crm/v3/objects", string(objectType)}, suffix...)
	return strings.Join(parts, "/")
}

func propertiesQuery(properties []string) string {
	if len(properties) == 0 {
		return ""
	}
	return "?properties=" + url.QueryEscape(strings.Join(properties, ","))
}

func batchFailure(op string, errs []BatchError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Category, e.Message))
	}
	return ierr.NewErrorf("%s: %d record(s) failed", op, len(errs)).
		WithHint(strings.Join(msgs, "; ")).
		Mark(ierr.ErrHTTPClient)
}
