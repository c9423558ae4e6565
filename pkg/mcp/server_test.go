package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trproxy/trproxy/pkg/models"
	"github.com/trproxy/trproxy/pkg/registry"
)

type fakeTiers struct {
	stats []models.TierStats
	err   error
}

func (f *fakeTiers) Stats(context.Context) ([]models.TierStats, error) { return f.stats, f.err }

type fakeCalls struct {
	records []models.CallRecord
	stats   []models.CallStat
	opts    models.CallQueryOpts
}

func (f *fakeCalls) Query(_ context.Context, opts models.CallQueryOpts) ([]models.CallRecord, error) {
	f.opts = opts
	return f.records, nil
}

func (f *fakeCalls) Stats(context.Context) ([]models.CallStat, error) { return f.stats, nil }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]models.TransactionProfile{
		{Code: "IVCA0060", TTLSeconds: 60, Alias: "index_info"},
		{Code: "KBI50130", TTLSeconds: 3600, Alias: "market_calendar"},
		{Code: "X3", TTLSeconds: 3},
	}, []string{"KBI50130"})
	require.NoError(t, err)
	return reg
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	require.NoError(t, err)
	line = append(line, '\n')

	var out bytes.Buffer
	require.NoError(t, srv.Run(context.Background(), bytes.NewReader(line), &out))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), "raw: %s", out.String())
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	p := ToolCallParams{Name: name}
	if args != "" {
		p.Arguments = json.RawMessage(args)
	}
	params, err := json.Marshal(p)
	require.NoError(t, err)

	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  params,
	})
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result ToolCallResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.NotEmpty(t, result.Content)
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(nil, nil, nil, "test", nil)
	resp := sendAndReceive(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "trproxy", result.ServerInfo.Name)
	assert.Equal(t, "test", result.ServerInfo.Version)
}

func TestToolsList(t *testing.T) {
	srv := New(nil, nil, nil, "test", nil)
	resp := sendAndReceive(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/list"})
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	require.NoError(t, json.Unmarshal(data, &result))

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		_, ok := handlers[tool.Name]
		assert.True(t, ok, "tool %s has no handler", tool.Name)
	}
	assert.ElementsMatch(t, []string{"trproxy_tiers", "trproxy_profiles", "trproxy_resolve", "trproxy_calls", "trproxy_call_stats"}, names)
}

func TestTiers(t *testing.T) {
	tiers := &fakeTiers{stats: []models.TierStats{
		{Name: "no-eviction", Exempt: true, Entries: 4, Capacity: 10000, Hits: 2, Misses: 1},
		{Name: "60-second", Entries: 1, Capacity: 3000},
	}}
	srv := New(nil, tiers, nil, "test", nil)

	res := callTool(t, srv, "trproxy_tiers", "")
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "no-eviction*")
	assert.Contains(t, res.Content[0].Text, "66.7%")

	tiers.err = errors.New("connection refused")
	res = callTool(t, srv, "trproxy_tiers", "")
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "connection refused")
}

func TestNotConfigured(t *testing.T) {
	srv := New(nil, nil, nil, "test", nil)
	for _, name := range []string{"trproxy_tiers", "trproxy_profiles", "trproxy_calls", "trproxy_call_stats"} {
		res := callTool(t, srv, name, "")
		assert.Contains(t, res.Content[0].Text, "not", name)
		assert.False(t, res.IsError, name)
	}
}

func TestProfilesAndResolve(t *testing.T) {
	srv := New(testRegistry(t), nil, nil, "test", nil)

	res := callTool(t, srv, "trproxy_profiles", "")
	assert.Contains(t, res.Content[0].Text, "IVCA0060")
	assert.Contains(t, res.Content[0].Text, "no-eviction")

	res = callTool(t, srv, "trproxy_resolve", `{"target":"index_info"}`)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "IVCA0060")
	assert.Contains(t, res.Content[0].Text, "60-second")

	res = callTool(t, srv, "trproxy_resolve", `{"target":"X3"}`)
	assert.Contains(t, res.Content[0].Text, "30-second")

	res = callTool(t, srv, "trproxy_resolve", `{"target":"unknown_alias"}`)
	assert.True(t, res.IsError)

	res = callTool(t, srv, "trproxy_resolve", `{}`)
	assert.True(t, res.IsError)
}

func TestCalls(t *testing.T) {
	calls := &fakeCalls{
		records: []models.CallRecord{{RequestID: "req-1", Code: "IVCA0060", Tier: "60-second", Outcome: "hit", StatusCode: 200, CreatedAt: time.Now()}},
		stats:   []models.CallStat{{Code: "IVCA0060", Day: "2024-03-04", Calls: 3, Hits: 2}},
	}
	srv := New(nil, nil, calls, "test", nil)

	res := callTool(t, srv, "trproxy_calls", `{"code":"IVCA0060","since":"2024-03-01","limit":"5"}`)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "req-1")
	assert.Equal(t, "IVCA0060", calls.opts.Code)
	assert.Equal(t, 5, calls.opts.Limit)
	assert.Equal(t, 2024, calls.opts.Since.Year())

	res = callTool(t, srv, "trproxy_calls", `{"since":"yesterday"}`)
	assert.True(t, res.IsError)

	res = callTool(t, srv, "trproxy_calls", `{"limit":"-1"}`)
	assert.True(t, res.IsError)

	res = callTool(t, srv, "trproxy_call_stats", "")
	assert.Contains(t, res.Content[0].Text, "2024-03-04")
}

func TestUnknownTool(t *testing.T) {
	srv := New(nil, nil, nil, "test", nil)
	res := callTool(t, srv, "trproxy_nope", "")
	assert.True(t, res.IsError)
}

func TestNotificationNoResponse(t *testing.T) {
	srv := New(nil, nil, nil, "test", nil)

	line, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "notifications/initialized"})
	line = append(line, '\n')

	var out bytes.Buffer
	require.NoError(t, srv.Run(context.Background(), bytes.NewReader(line), &out))
	assert.Zero(t, out.Len())
}

func TestUnknownMethod(t *testing.T) {
	srv := New(nil, nil, nil, "test", nil)
	resp := sendAndReceive(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`9`), Method: "unknown/method"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestParseError(t *testing.T) {
	srv := New(nil, nil, nil, "test", nil)
	var out bytes.Buffer
	require.NoError(t, srv.Run(context.Background(), bytes.NewReader([]byte("{oops\n")), &out))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}
