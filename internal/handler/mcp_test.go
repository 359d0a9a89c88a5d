package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"cartsync/internal/model"
	"cartsync/internal/negotiation"
	"cartsync/internal/platform"
)

// jsonrpcRequest is a JSON-RPC 2.0 request structure for testing.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response structure for testing.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams represents the params for tools/call method.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// callToolResult is the expected result structure from a tool call.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

func setMCPHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	// MCP Streamable HTTP requires Accept header with both json and event-stream
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
}

// parseSSEResponse extracts JSON data from SSE formatted response.
// SSE format: "event: message\ndata: {json}\n\n"
func parseSSEResponse(body string) []byte {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: "))
		}
	}
	// If no SSE format found, assume plain JSON
	return []byte(body)
}

func rpc(t *testing.T, mux *http.ServeMux, sessionID string, req jsonrpcRequest) (*httptest.ResponseRecorder, jsonrpcResponse) {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, sessionID)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("%s status = %d\nBody: %s", req.Method, w.Code, w.Body.String())
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(parseSSEResponse(w.Body.String()), &resp); err != nil {
		t.Fatalf("decode %s response: %v\nBody: %s", req.Method, err, w.Body.String())
	}
	if resp.Error != nil {
		t.Fatalf("%s error: %+v", req.Method, resp.Error)
	}
	return w, resp
}

// initMCPSession initializes an MCP session and returns the session ID.
func initMCPSession(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	w, _ := rpc(t, mux, "", jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2025-06-18",
			"clientInfo":      map[string]string{"name": "test", "version": "1.0"},
			"capabilities":    map[string]any{},
		},
	})
	return w.Header().Get("Mcp-Session-Id")
}

// callTool invokes a tool and returns its result.
func callTool(t *testing.T, mux *http.ServeMux, mcpSession, name string, args any) callToolResult {
	t.Helper()
	raw, _ := json.Marshal(args)
	_, resp := rpc(t, mux, mcpSession, jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params:  toolCallParams{Name: name, Arguments: raw},
	})
	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("parse %s result: %v", name, err)
	}
	return result
}

func cartFromResult(t *testing.T, result callToolResult) CartOutput {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool error: %+v", result.Content)
	}
	if len(result.Content) == 0 || result.Content[0].Type != "text" {
		t.Fatalf("no text content: %+v", result)
	}
	var out CartOutput
	if err := json.Unmarshal([]byte(result.Content[0].Text), &out); err != nil {
		t.Fatalf("decode cart output: %v", err)
	}
	return out
}

func TestMCPToolsList(t *testing.T) {
	_, mux := testHandler(t, cartMock())
	sessionID := initMCPSession(t, mux)

	_, resp := rpc(t, mux, sessionID, jsonrpcRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"})

	var toolsResult struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &toolsResult); err != nil {
		t.Fatalf("Failed to parse tools result: %v", err)
	}

	expected := map[string]bool{
		"create_session": false, "close_session": false, "get_cart": false,
		"refresh_cart": false, "change_quantity": false, "remove_item": false,
		"apply_coupon": false, "remove_coupon": false, "select_shipping": false,
		"add_to_cart": false, "list_products": false, "reorder_items": false,
		"reauthenticate": false, "set_cart": false,
	}
	for _, tool := range toolsResult.Tools {
		if _, ok := expected[tool.Name]; ok {
			expected[tool.Name] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("Expected tool %q not found in tools list", name)
		}
	}
}

func TestMCPCartTools(t *testing.T) {
	live := &liveCart{snap: sampleCart()}
	_, mux := testHandler(t, live.mock())
	mcpSession := initMCPSession(t, mux)

	created := cartFromResult(t, callTool(t, mux, mcpSession, "create_session", map[string]any{}))
	if created.SessionID == "" || created.Snapshot.Count != 2 {
		t.Fatalf("create_session = %+v", created)
	}

	out := cartFromResult(t, callTool(t, mux, mcpSession, "change_quantity", map[string]any{
		"session_id": created.SessionID,
		"key":        "a",
		"delta":      2,
	}))
	if out.Snapshot.Count != 4 || out.Snapshot.Items[0].Quantity != 3 {
		t.Errorf("after change_quantity count %d qty %d, want 4 and 3", out.Snapshot.Count, out.Snapshot.Items[0].Quantity)
	}
	state, err := negotiation.ParseCartState(out.CartState)
	if err != nil || state.Count != 4 {
		t.Errorf("cart_state = %q (%v)", out.CartState, err)
	}

	listed := callTool(t, mux, mcpSession, "list_products", map[string]any{"session_id": created.SessionID})
	if listed.IsError || !strings.Contains(listed.Content[0].Text, `"products":[]`) {
		t.Errorf("list_products = %+v", listed)
	}

	closed := callTool(t, mux, mcpSession, "close_session", map[string]any{"session_id": created.SessionID})
	if closed.IsError {
		t.Errorf("close_session error: %+v", closed.Content)
	}
}

func TestMCPSetCart(t *testing.T) {
	live := &liveCart{snap: sampleCart()}
	_, mux := testHandler(t, live.mock())
	mcpSession := initMCPSession(t, mux)
	created := cartFromResult(t, callTool(t, mux, mcpSession, "create_session", map[string]any{}))

	out := cartFromResult(t, callTool(t, mux, mcpSession, "set_cart", map[string]any{
		"session_id": created.SessionID,
		"items":      []map[string]any{{"key": "b", "quantity": 2}},
	}))
	if len(out.Snapshot.Items) != 1 || out.Snapshot.Items[0].Key != "b" || out.Snapshot.Items[0].Quantity != 2 {
		t.Errorf("items = %+v, want only b with quantity 2", out.Snapshot.Items)
	}
	want := []string{"remove a", "qty b 2"}
	if got := live.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}

	failed := callTool(t, mux, mcpSession, "set_cart", map[string]any{
		"session_id": created.SessionID,
		"items":      []map[string]any{{"key": "zz", "quantity": 1}},
	})
	if !failed.IsError || !strings.Contains(failed.Content[0].Text, "VALIDATION_ERROR") {
		t.Errorf("set_cart with unknown line = %+v", failed)
	}
}

func TestMCPToolErrors(t *testing.T) {
	mock := cartMock()
	mock.ApplyCouponFunc = func(ctx context.Context, code string) (*model.CouponResult, error) {
		return nil, model.NewApplicationError(`Coupon "nope" does not exist!`)
	}
	_, mux := testHandler(t, mock)
	mcpSession := initMCPSession(t, mux)
	created := cartFromResult(t, callTool(t, mux, mcpSession, "create_session", map[string]any{}))

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		wantText string
	}{
		{"missing session id", "get_cart", map[string]any{"session_id": ""}, "session_id is required"},
		{"unknown session", "get_cart", map[string]any{"session_id": "gone"}, "NOT_FOUND"},
		{"rejected coupon", "apply_coupon", map[string]any{"session_id": created.SessionID, "code": "nope"}, "APPLICATION_ERROR"},
		{"invalid product", "add_to_cart", map[string]any{"session_id": created.SessionID, "product_id": 0}, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, mux, mcpSession, tt.tool, tt.args)
			if !result.IsError {
				t.Fatalf("%s succeeded, want error", tt.tool)
			}
			if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, tt.wantText) {
				t.Errorf("error content = %+v, want %q", result.Content, tt.wantText)
			}
		})
	}
}

func TestMCPErrorHidesInternals(t *testing.T) {
	h, _ := testHandler(t, &platform.Mock{})
	if err := h.mcpError(context.Canceled); err.Error() != "internal error" {
		t.Errorf("mcpError() = %v, want internal error", err)
	}
	err := h.mcpError(model.NewBusyError("coupons"))
	if !strings.HasPrefix(err.Error(), "RESOURCE_BUSY: ") {
		t.Errorf("mcpError() = %v", err)
	}
}
