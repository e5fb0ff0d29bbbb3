package matchminer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mmloader/internal/config"
)

const (
	trialPath       = "/api/trial"
	clinicalPath    = "/api/clinical"
	genomicPath     = "/api/genomic"
	trialMatchPath  = "/api/trial_match"
	matchEnginePath = "/api/run_matchengine"
)

// ErrNoCredentials reports a client built without server or token.
var ErrNoCredentials = errors.New("matchminer: server and token are required")

// HTTPDoer describes the HTTP client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Document is a MatchMiner resource as decoded JSON.
type Document map[string]any

// String returns the string field key, or "" when absent or not a string.
func (d Document) String(key string) string {
	value, _ := d[key].(string)
	return value
}

// ListResponse is the envelope returned by collection GETs.
type ListResponse struct {
	Items []Document `json:"_items"`
}

// Query narrows a collection GET.
type Query struct {
	Where      map[string]any
	Projection map[string]int
}

func (q Query) values() (url.Values, error) {
	values := url.Values{}
	if len(q.Where) > 0 {
		data, err := json.Marshal(q.Where)
		if err != nil {
			return nil, fmt.Errorf("encode where: %w", err)
		}
		values.Set("where", string(data))
	}
	if len(q.Projection) > 0 {
		data, err := json.Marshal(q.Projection)
		if err != nil {
			return nil, fmt.Errorf("encode projection: %w", err)
		}
		values.Set("projection", string(data))
	}
	return values, nil
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// Client talks to one MatchMiner server.
type Client struct {
	baseURL string
	token   string
	http    HTTPDoer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// New builds a client from the [matchminer] section.
func New(cfg config.MatchMiner, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Server) == "" || strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNoCredentials
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // matchminer.insecure_skip_verify
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	client := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.Server), "/"),
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: timeout, Transport: transport},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// BaseURL returns the server root the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// InsertTrial posts a trial document.
func (c *Client) InsertTrial(ctx context.Context, trial Document) (Document, error) {
	var created Document
	err := c.do(ctx, http.MethodPost, trialPath, nil, trial, nil, &created)
	return created, err
}

// FindTrials lists trials matching q.
func (c *Client) FindTrials(ctx context.Context, q Query) ([]Document, error) {
	return c.list(ctx, trialPath, q)
}

// ReplaceTrial overwrites trial id. etag guards against concurrent edits.
func (c *Client) ReplaceTrial(ctx context.Context, id, etag string, q Query, trial Document) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("replace trial: empty id")
	}
	params, err := q.values()
	if err != nil {
		return err
	}
	headers := http.Header{}
	if etag != "" {
		headers.Set("If-Match", etag)
	}
	return c.do(ctx, http.MethodPut, trialPath+"/"+url.PathEscape(id), params, trial, headers, nil)
}

// InsertClinical posts a clinical document and returns the server-assigned _id.
func (c *Client) InsertClinical(ctx context.Context, clinical Document) (string, error) {
	var created Document
	if err := c.do(ctx, http.MethodPost, clinicalPath, nil, clinical, nil, &created); err != nil {
		return "", err
	}
	return created.String("_id"), nil
}

// InsertGenomic posts a batch of genomic records.
func (c *Client) InsertGenomic(ctx context.Context, records []Document) error {
	return c.do(ctx, http.MethodPost, genomicPath, nil, records, nil, nil)
}

// ListClinical returns clinical documents.
func (c *Client) ListClinical(ctx context.Context) ([]Document, error) {
	return c.list(ctx, clinicalPath, Query{})
}

// ListGenomic returns genomic records matching q.
func (c *Client) ListGenomic(ctx context.Context, q Query) ([]Document, error) {
	return c.list(ctx, genomicPath, q)
}

// ListTrialMatches returns trial_match records matching q.
func (c *Client) ListTrialMatches(ctx context.Context, q Query) ([]Document, error) {
	return c.list(ctx, trialMatchPath, q)
}

// RunMatchEngine asks the server to recompute matches.
func (c *Client) RunMatchEngine(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, matchEnginePath, nil, map[string]any{}, nil, nil)
}

func (c *Client) list(ctx context.Context, path string, q Query) ([]Document, error) {
	params, err := q.values()
	if err != nil {
		return nil, err
	}
	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, path, params, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, headers http.Header, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Basic "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, URL: endpoint, StatusCode: resp.StatusCode, Body: string(payload)}
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
