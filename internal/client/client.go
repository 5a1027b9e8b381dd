package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"document-gateway/internal/domain"
	"document-gateway/internal/gateway"
	"document-gateway/internal/resolver"
	"document-gateway/internal/rest"
	"document-gateway/internal/store"
)

// Client talks to the gateway's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

var kinds = []domain.Kind{
	domain.KindNotFound,
	domain.KindConflict,
	domain.KindInvalidRequest,
	domain.KindUnimplemented,
	domain.KindAdapterFailure,
	domain.KindUnauthenticated,
	domain.KindPermissionDenied,
}

// decodeError turns an error response into a domain error so callers can use errors.Is.
func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var body errorBody
	if err := json.Unmarshal(b, &body); err != nil || body.Code == "" {
		return fmt.Errorf("gateway error: status=%d body=%s", resp.StatusCode, string(b))
	}
	kind := domain.KindInternal
	for _, k := range kinds {
		if k.String() == body.Code {
			kind = k
			break
		}
	}
	return &domain.Error{Kind: kind, Op: "gateway", Msg: body.Error}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.httpClient.Do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func keyValues(key domain.IdentityKey) url.Values {
	return url.Values{
		"repo":   {key.Repo},
		"branch": {key.Branch},
		"path":   {key.Path},
	}
}

// WriteDiff returns the response for both success and version conflict; check Conflict.
func (c *Client) WriteDiff(ctx context.Context, req rest.WriteDiffRequest) (*gateway.WriteDiffResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/diff", nil, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return nil, decodeError(resp)
	}
	var out gateway.WriteDiffResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadSnapshot reads the current document, or the pinned version when version > 0.
func (c *Client) ReadSnapshot(ctx context.Context, key domain.IdentityKey, version int64) (*rest.SnapshotResponse, error) {
	query := keyValues(key)
	if version > 0 {
		query.Set("version", strconv.FormatInt(version, 10))
	}
	var out rest.SnapshotResponse
	if err := c.getJSON(ctx, "/api/v1/snapshot", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetHistory(ctx context.Context, key domain.IdentityKey, q store.HistoryQuery) (*store.HistoryPage, error) {
	query := keyValues(key)
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.BeforeVersion > 0 {
		query.Set("before_version", strconv.FormatInt(q.BeforeVersion, 10))
	}
	var out store.HistoryPage
	if err := c.getJSON(ctx, "/api/v1/history", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResolveConflict(ctx context.Context, req rest.ResolveRequest) (*resolver.Resolution, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/resolve", nil, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	var out resolver.Resolution
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.getJSON(ctx, "/api/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
