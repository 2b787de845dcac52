// Package drugdata compiles the drug product lookup dataset from the Health
// Canada drug product API.
package drugdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/juju/ratelimit"
	"github.com/nextscript/emr-tools/drugdata/entities"
	"github.com/nextscript/emr-tools/logging"
	"golang.org/x/text/encoding/charmap"
)

// Dataset names
const (
	DatasetSchedule         = "schedule"
	DatasetDrugProduct      = "drugproduct"
	DatasetActiveIngredient = "activeingredient"
	DatasetForm             = "form"
)

// Endpoint is one dataset of the drug product API
type Endpoint struct {
	Name string
	Path string
}

// Endpoints lists the datasets fetched on every run, in fetch order
var Endpoints = []Endpoint{
	{DatasetSchedule, "/schedule/?lang=en&type=json"},
	{DatasetDrugProduct, "/drugproduct/?lang=en&type=json"},
	{DatasetActiveIngredient, "/activeingredient/?lang=en&type=json"},
	{DatasetForm, "/form/?lang=en&type=json"},
}

// Fetch error kinds
const (
	KindTimeout    = "timeout"
	KindHTTPStatus = "http_status"
	KindNetwork    = "network"
	KindDecode     = "decode"
)

// FetchError describes why a dataset could not be fetched
type FetchError struct {
	Dataset    string
	Kind       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: http status %d", e.Dataset, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Dataset, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetcherConfig configures a Fetcher
type FetcherConfig struct {
	BaseURL   string
	Timeout   time.Duration
	Delay     time.Duration // minimum spacing between requests
	UserAgent string
}

// Fetcher downloads datasets from the drug product API, one request at a time
type Fetcher struct {
	baseURL   string
	userAgent string
	client    *http.Client
	throttle  *ratelimit.Bucket
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	f := &Fetcher{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.Delay > 0 {
		f.throttle = ratelimit.NewBucket(cfg.Delay, 1)
	}
	return f
}

// Fetch downloads one dataset. A JSON null or empty body gives an empty list,
// as does any JSON value that is not a list (with a warning).
func (f *Fetcher) Fetch(ctx context.Context, name, path string) ([]entities.RawRecord, error) {
	if f.throttle != nil {
		f.throttle.Wait(1)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return nil, &FetchError{Dataset: name, Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Dataset: name, Kind: classifyTransportError(err), Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Warn("Failed to close response body", "dataset", name, "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Dataset: name, Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Dataset: name, Kind: classifyTransportError(err), Err: err}
	}

	records, err := decodeRecords(name, body)
	if err != nil {
		return nil, &FetchError{Dataset: name, Kind: KindDecode, Err: err}
	}

	logging.Info("Fetched dataset", "dataset", name, "records", len(records), "duration_ms", time.Since(start).Milliseconds())
	return records, nil
}

func decodeRecords(name string, body []byte) ([]entities.RawRecord, error) {
	// Some API responses are ISO-8859-1 rather than UTF-8
	var reader io.Reader = bytes.NewReader(body)
	if !utf8.Valid(body) {
		reader = charmap.ISO8859_1.NewDecoder().Reader(bytes.NewReader(body))
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return []entities.RawRecord{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	switch v := doc.(type) {
	case nil:
		return []entities.RawRecord{}, nil
	case []any:
		records := make([]entities.RawRecord, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				records = append(records, entities.RawRecord(obj))
			}
		}
		return records, nil
	default:
		logging.Warn("Unexpected response shape, treating as empty", "dataset", name, "type", fmt.Sprintf("%T", doc))
		return []entities.RawRecord{}, nil
	}
}

func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
