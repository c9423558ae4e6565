// Package mcp exposes read-only trproxy operator tools over the Model Context
// Protocol, speaking JSON-RPC 2.0 on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/trproxy/trproxy/pkg/models"
	"go.uber.org/zap"
)

// Profiles looks up transaction profiles.
type Profiles interface {
	Profiles() []models.TransactionProfile
	ProfileByCode(code string) (models.TransactionProfile, bool)
	CodeByAlias(alias string) (string, bool)
}

// TierStatter reports the cache tiers of a running server.
type TierStatter interface {
	Stats(ctx context.Context) ([]models.TierStats, error)
}

// CallLog queries recorded transaction calls.
type CallLog interface {
	Query(ctx context.Context, opts models.CallQueryOpts) ([]models.CallRecord, error)
	Stats(ctx context.Context) ([]models.CallStat, error)
}

// Server is a minimal MCP server. Any dependency may be nil; the tools
// backed by it then report that it is not configured.
type Server struct {
	profiles Profiles
	tiers    TierStatter
	calls    CallLog
	version  string
	log      *zap.Logger
}

// New creates a new MCP Server.
func New(p Profiles, tiers TierStatter, calls CallLog, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		profiles: p,
		tiers:    tiers,
		calls:    calls,
		version:  version,
		log:      log,
	}
}

// Run reads JSON-RPC requests from r line by line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, rpcError(nil, CodeParseError, "parse error"))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return result(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "trproxy", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, ToolsListResult{Tools: tools})
	case "tools/call":
		return s.callTool(ctx, req)
	default:
		if len(req.ID) == 0 {
			return nil
		}
		return rpcError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) callTool(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := handlers[params.Name]
	if !ok {
		return result(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	args := map[string]string{}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return result(req.ID, errorResult("arguments must be an object of strings"))
		}
	}
	s.log.Debug("mcp tool call", zap.String("tool", params.Name))
	return result(req.ID, handler(ctx, s, args))
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("mcp marshal error", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.log.Error("mcp write error", zap.Error(err))
	}
}
