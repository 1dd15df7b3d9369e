package serverhttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/RouteWise/FieldOps/internal/transport"
	"github.com/pkg/errors"
)

// Client отправляет мутации на бекенд флота обычным JSON-over-HTTP.
type Client struct {
	baseURL string
	apiKey  string
	deviceID string
	httpc   *http.Client
}

func New(baseURL, apiKey, deviceID string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		deviceID: deviceID,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Send(ctx context.Context, endpoint, method string, payload []byte) (transport.Result, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return transport.Result{}, errors.Wrap(err, "parse base url")
	}
	u = u.JoinPath(endpoint)

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return transport.Result{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return transport.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return transport.Result{}, errors.Wrap(err, "read response")
	}

	if resp.StatusCode/100 != 2 {
		// Сервер сам разруливает конфликты; для очереди любой не-2xx — это
		// неуспех отправки, решение о повторе принимает retry policy.
		return transport.Result{StatusCode: resp.StatusCode, Body: b},
			fmt.Errorf("fleet server http %d on %s %s", resp.StatusCode, method, endpoint)
	}

	return transport.Result{StatusCode: resp.StatusCode, Body: b}, nil
}
