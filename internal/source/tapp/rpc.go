package tapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// rpcClient speaks TAPP's JSON-RPC dialect: params is an object
// {"query": ...} and results arrive under result.data.
type rpcClient struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	nextID  atomic.Uint64
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcParams struct {
	Query any `json:"query"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     uint64 `json:"id"`
	Result *struct {
		Data json.RawMessage `json:"data"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

func (c *rpcClient) call(ctx context.Context, method string, query any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  rpcParams{Query: query},
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, decoded.Error.Code, decoded.Error.Message)
	}
	if decoded.Result == nil {
		return fmt.Errorf("%s: response has no result", method)
	}
	if err := json.Unmarshal(decoded.Result.Data, out); err != nil {
		return fmt.Errorf("%s: decode result data: %w", method, err)
	}
	return nil
}
