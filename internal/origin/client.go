// Package origin fetches from the application's origin server.
package origin

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Fetch issues a GET for the given request URI (path plus optional query)
// against the origin and slurps the body.
func (c *Client) Fetch(ctx context.Context, requestURI string, headers http.Header) (*http.Response, []byte, error) {
	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestURI, nil)
	if err != nil {
		return nil, nil, err
	}
	copyHeaders(req.Header, headers)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
