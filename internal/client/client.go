// Package client is the HTTP client for the intake API, used by the watch
// and upload CLIs and as the fetch function behind remote pollers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/commissionflow/docintake/internal/api"
	"github.com/commissionflow/docintake/internal/document"
	"github.com/commissionflow/docintake/internal/extract"
)

// Client talks to one intake API server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// ListDocuments fetches every document, newest first. Its signature
// matches poller.Fetcher so a Client can back a list-scope watcher
// directly.
func (c *Client) ListDocuments(ctx context.Context) ([]document.Document, error) {
	var docs []document.Document
	if err := c.get(ctx, "/api/documents", &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// GetDocument fetches one document by ID.
func (c *Client) GetDocument(ctx context.Context, id string) (document.Document, error) {
	var doc document.Document
	if err := c.get(ctx, "/api/documents/"+url.PathEscape(id), &doc); err != nil {
		return document.Document{}, err
	}
	return doc, nil
}

// DocumentFetcher adapts GetDocument to a single-document poller fetch.
func (c *Client) DocumentFetcher(id string) func(ctx context.Context) ([]document.Document, error) {
	return func(ctx context.Context) ([]document.Document, error) {
		doc, err := c.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		return []document.Document{doc}, nil
	}
}

// GetExtraction fetches the extracted tables for a reviewed document.
func (c *Client) GetExtraction(ctx context.Context, id string) (extract.Extraction, error) {
	var ex extract.Extraction
	if err := c.get(ctx, "/api/documents/"+url.PathEscape(id)+"/extraction", &ex); err != nil {
		return extract.Extraction{}, err
	}
	return ex, nil
}

// RequestUpload asks the server for a presigned upload target.
func (c *Client) RequestUpload(ctx context.Context, req api.UploadRequest) (api.UploadResponse, error) {
	var resp api.UploadResponse
	if err := c.post(ctx, "/api/uploads", req, &resp); err != nil {
		return api.UploadResponse{}, err
	}
	return resp, nil
}

// StartProcessing tells the server the upload finished and extraction can
// begin.
func (c *Client) StartProcessing(ctx context.Context, id string) error {
	return c.post(ctx, "/api/documents/"+url.PathEscape(id)+"/process", nil, nil)
}

// Confirm submits reviewed rows for hand-off.
func (c *Client) Confirm(ctx context.Context, id string, req api.ConfirmRequest) (api.ConfirmResponse, error) {
	var resp api.ConfirmResponse
	if err := c.post(ctx, "/api/documents/"+url.PathEscape(id)+"/confirm", req, &resp); err != nil {
		return api.ConfirmResponse{}, err
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", req.Method, req.URL.Path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
