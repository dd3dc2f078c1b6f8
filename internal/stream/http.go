package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const documentsPath = "/v1/documents"

// HTTPOptions parameterise the ingestion-service client.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTPAccessor reads raw documents from the ingestion service's range
// endpoint. A request timeout or non-2xx response surfaces as *FetchError so
// the affected component degrades to unavailable instead of failing the
// window.
type HTTPAccessor struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPAccessor constructs an ingestion-service accessor.
func NewHTTPAccessor(opts HTTPOptions, logger zerolog.Logger) *HTTPAccessor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPAccessor{
		opts:    opts,
		logger:  logger.With().Str("component", "http_accessor").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Fetch retrieves documents for one stream and half-open time range.
func (a *HTTPAccessor) Fetch(ctx context.Context, s Stream, merchantID string, start, end time.Time) ([]Document, error) {
	if a.baseURL == "" {
		return nil, &FetchError{Stream: s, Err: fmt.Errorf("ingestion base url not configured")}
	}

	query := url.Values{}
	query.Set("stream", string(s))
	query.Set("merchant_id", merchantID)
	query.Set("from", start.UTC().Format(time.RFC3339))
	query.Set("to", end.UTC().Format(time.RFC3339))

	endpoint := a.baseURL + documentsPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Stream: s, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "riskwatcher/1.0")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &FetchError{Stream: s, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Stream: s, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Stream: s, Err: parseHTTPError(resp.StatusCode, payload)}
	}

	var body documentsResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, &FetchError{Stream: s, Err: fmt.Errorf("decode documents: %w", err)}
	}

	docs := make([]Document, 0, len(body.Documents))
	for _, wire := range body.Documents {
		doc, convErr := wire.toDocument(s, merchantID)
		if convErr != nil {
			return nil, &FetchError{Stream: s, Err: convErr}
		}
		docs = append(docs, doc)
	}

	a.logger.Debug().Str("stream", string(s)).Str("merchant_id", merchantID).
		Int("documents", len(docs)).Msg("fetched documents")
	return docs, nil
}

type documentsResponse struct {
	Documents []wireDocument `json:"documents"`
}

type wireDocument struct {
	ObservedAt time.Time `json:"observed_at"`
	Polarity   *string   `json:"polarity,omitempty"`
	Rating     *string   `json:"rating,omitempty"`
	Flagged    *bool     `json:"flagged,omitempty"`
	Volatility *string   `json:"volatility,omitempty"`
}

func (w wireDocument) toDocument(s Stream, merchantID string) (Document, error) {
	doc := Document{
		Stream:     s,
		MerchantID: merchantID,
		ObservedAt: w.ObservedAt.UTC(),
		Flagged:    w.Flagged,
	}

	var err error
	if doc.Polarity, err = parseDecimalField("polarity", w.Polarity); err != nil {
		return Document{}, err
	}
	if doc.Rating, err = parseDecimalField("rating", w.Rating); err != nil {
		return Document{}, err
	}
	if doc.Volatility, err = parseDecimalField("volatility", w.Volatility); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func parseDecimalField(name string, raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &value, nil
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("ingestion api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("ingestion api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("ingestion api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("ingestion api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("ingestion api error (%d)", status)
}

var _ Accessor = (*HTTPAccessor)(nil)
