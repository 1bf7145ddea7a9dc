package tapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// viewClient calls Move view functions on an Aptos fullnode REST API.
type viewClient struct {
	nodeURL string
	http    *http.Client
	limiter *rate.Limiter
}

type viewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// view returns the function's return values, one raw element per value.
func (c *viewClient) view(ctx context.Context, function string, args ...any) ([]json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(viewRequest{Function: function, TypeArguments: []string{}, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("marshal view %s: %w", function, err)
	}

	url := strings.TrimRight(c.nodeURL, "/") + "/view"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build view request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", function, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("view %s: read body: %w", function, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("view %s: http status %d: %s", function, resp.StatusCode, truncate(raw, 256))
	}

	var values []json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("view %s: decode response: %w", function, err)
	}
	return values, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
