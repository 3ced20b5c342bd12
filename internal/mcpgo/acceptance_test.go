package mcpgo

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type rpcResponse struct {
	ID     int `json:"id"`
	Result struct {
		IsError           bool            `json:"isError"`
		StructuredContent json.RawMessage `json:"structuredContent"`
		Content           []struct {
			Text string `json:"text"`
		} `json:"content"`
		ServerInfo struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// mcpClient speaks JSON-RPC to the /mcp endpoint the way a remote client would
type mcpClient struct {
	baseURL string
	token   string
}

func (c *mcpClient) post(t *testing.T, req rpcRequest) (int, []byte) {
	t.Helper()

	payload, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodPost, c.baseURL+"/mcp", bytes.NewReader(payload))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func (c *mcpClient) call(t *testing.T, id int, method string, params any) rpcResponse {
	t.Helper()

	status, body := c.post(t, rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	require.Equal(t, http.StatusOK, status, string(body))

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(ssePayload(body), &resp), string(body))
	require.Nil(t, resp.Error)
	return resp
}

func (c *mcpClient) callTool(t *testing.T, id int, name string, args map[string]any) rpcResponse {
	t.Helper()
	return c.call(t, id, "tools/call", callToolParams{Name: name, Arguments: args})
}

// ssePayload extracts the data line when the server answers with an event stream
func ssePayload(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '{' {
		return trimmed
	}

	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			return []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return trimmed
}

func TestAcceptance_MCPOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	t.Run("wrong token is rejected", func(t *testing.T) {
		client := &mcpClient{baseURL: ts.URL, token: "wrong-token"}
		status, body := client.post(t, rpcRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list", Params: map[string]any{}})

		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Contains(t, string(body), "unauthorized")
	})

	client := &mcpClient{baseURL: ts.URL, token: "test-token"}

	t.Run("initialize", func(t *testing.T) {
		resp := client.call(t, 1, "initialize", map[string]any{
			"protocolVersion": "2025-06-18",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]string{"name": "acceptance-test", "version": "1.0.0"},
		})
		assert.Equal(t, "Allergen Scanner MCP Server", resp.Result.ServerInfo.Name)
	})

	t.Run("scan barcode returns a flagged food", func(t *testing.T) {
		resp := client.callTool(t, 2, "scan_barcode", map[string]any{"barcode": breadBarcode})
		require.False(t, resp.Result.IsError)

		var scan ScanBarcodeResponse
		require.NoError(t, json.Unmarshal(resp.Result.StructuredContent, &scan))
		require.True(t, scan.Found)
		require.NotNil(t, scan.Result)
		assert.Equal(t, "Whole Wheat Bread", scan.Result.Food.Name)
		assert.Equal(t, 1, scan.Result.Count)
		assert.Equal(t, "Contains 1 allergen", scan.Result.Summary)
	})

	t.Run("unknown barcode is reported as not found", func(t *testing.T) {
		resp := client.callTool(t, 3, "scan_barcode", map[string]any{"barcode": "0000000000000"})

		var scan ScanBarcodeResponse
		require.NoError(t, json.Unmarshal(resp.Result.StructuredContent, &scan))
		assert.False(t, scan.Found)
		assert.Nil(t, scan.Result)
	})

	t.Run("missing argument is a tool error", func(t *testing.T) {
		resp := client.callTool(t, 4, "scan_barcode", map[string]any{})
		assert.True(t, resp.Result.IsError)
	})
}

func TestAcceptance_ConcurrentClients(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	barcodes := []string{
		"5000169005057", "5391531234567", "5391520654321", "5391533987654",
		"5000169123456", "5411188123789", "5000169999999", "5391531111111",
	}

	for _, concurrency := range []int{2, 5, 10} {
		t.Run(fmt.Sprintf("%d clients", concurrency), func(t *testing.T) {
			client := &mcpClient{baseURL: ts.URL, token: "test-token"}

			var wg sync.WaitGroup
			var failures atomic.Int32
			start := time.Now()

			for clientID := 0; clientID < concurrency; clientID++ {
				wg.Add(1)
				go func(clientID int) {
					defer wg.Done()
					for i := 0; i < 5; i++ {
						barcode := barcodes[(clientID+i)%len(barcodes)]
						resp := client.callTool(t, clientID*100+i, "scan_barcode", map[string]any{"barcode": barcode})

						var scan ScanBarcodeResponse
						if err := json.Unmarshal(resp.Result.StructuredContent, &scan); err != nil || !scan.Found {
							failures.Add(1)
						}
					}
				}(clientID)
			}
			wg.Wait()

			assert.Zero(t, failures.Load())
			t.Logf("%d clients x 5 scans in %s", concurrency, time.Since(start))
		})
	}
}

func TestAcceptance_ConcurrentTogglesAreNotLost(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	client := &mcpClient{baseURL: ts.URL, token: "test-token"}
	barcodes := []string{
		"5000169005057", "5391531234567", "5391520654321", "5391533987654",
		"5000169123456", "5411188123789", "5000169999999", "5391531111111",
	}

	var wg sync.WaitGroup
	for i, barcode := range barcodes {
		wg.Add(1)
		go func(id int, barcode string) {
			defer wg.Done()
			client.callTool(t, id, "toggle_favorite", map[string]any{"barcode": barcode})
		}(i+1, barcode)
	}
	wg.Wait()

	resp := client.callTool(t, 100, "list_favorites", nil)
	var list ListFoodsResponse
	require.NoError(t, json.Unmarshal(resp.Result.StructuredContent, &list))
	assert.Equal(t, len(barcodes), list.Count)
}
