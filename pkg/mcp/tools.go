package mcp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/trproxy/trproxy/pkg/models"
	"github.com/trproxy/trproxy/pkg/tier"
)

type toolHandler func(ctx context.Context, s *Server, args map[string]string) ToolCallResult

var handlers = map[string]toolHandler{
	"trproxy_tiers":      handleTiers,
	"trproxy_profiles":   handleProfiles,
	"trproxy_resolve":    handleResolve,
	"trproxy_calls":      handleCalls,
	"trproxy_call_stats": handleCallStats,
}

func noArgs() ToolSchema {
	return ToolSchema{Type: "object", Properties: map[string]Property{}}
}

var tools = []Tool{
	{
		Name:        "trproxy_tiers",
		Description: "Show per-tier cache statistics of the running proxy (entries, capacity, hits, misses, sweeps).",
		InputSchema: noArgs(),
	},
	{
		Name:        "trproxy_profiles",
		Description: "List configured transaction profiles with their TTL, alias, array field and cache tier.",
		InputSchema: noArgs(),
	},
	{
		Name:        "trproxy_resolve",
		Description: "Show the profile and cache tier of a transaction code or alias.",
		InputSchema: ToolSchema{
			Type:     "object",
			Required: []string{"target"},
			Properties: map[string]Property{
				"target": {Type: "string", Description: "Transaction code or alias"},
			},
		},
	},
	{
		Name:        "trproxy_calls",
		Description: "Search the transaction call log with optional filters.",
		InputSchema: ToolSchema{
			Type: "object",
			Properties: map[string]Property{
				"code":    {Type: "string", Description: "Filter by transaction code (optional)"},
				"tier":    {Type: "string", Description: "Filter by cache tier (optional)"},
				"outcome": {Type: "string", Description: "Filter by cache outcome: hit, miss or bypass (optional)"},
				"since":   {Type: "string", Description: "Start date in YYYY-MM-DD format (optional)"},
				"limit":   {Type: "string", Description: "Maximum records to return (optional, default 50)"},
			},
		},
	},
	{
		Name:        "trproxy_call_stats",
		Description: "Show call, cache hit and error counts by transaction code and day.",
		InputSchema: noArgs(),
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleTiers(ctx context.Context, s *Server, _ map[string]string) ToolCallResult {
	if s.tiers == nil {
		return textResult("Proxy admin endpoint is not configured.")
	}
	stats, err := s.tiers.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching tier stats: " + err.Error())
	}
	return textResult(formatTierStats(stats))
}

func handleProfiles(_ context.Context, s *Server, _ map[string]string) ToolCallResult {
	if s.profiles == nil {
		return textResult("Transaction profiles are not loaded.")
	}
	return textResult(formatProfiles(s.profiles.Profiles()))
}

func handleResolve(_ context.Context, s *Server, args map[string]string) ToolCallResult {
	target := args["target"]
	if target == "" {
		return errorResult("target is required")
	}
	if s.profiles == nil {
		return textResult("Transaction profiles are not loaded.")
	}

	code := target
	if c, ok := s.profiles.CodeByAlias(target); ok {
		code = c
	}
	p, ok := s.profiles.ProfileByCode(code)
	if !ok {
		return errorResult(fmt.Sprintf("no transaction profile for %q", target))
	}
	return textResult(fmt.Sprintf("code:   %s\nalias:  %s\nttl:    %ds\nexempt: %t\ntier:   %s\n",
		p.Code, p.Alias, p.TTLSeconds, p.EvictionExempt, tier.Resolve(p.TTLSeconds, p.EvictionExempt)))
}

func handleCalls(ctx context.Context, s *Server, args map[string]string) ToolCallResult {
	if s.calls == nil {
		return textResult("Call logging is not configured.")
	}

	opts := models.CallQueryOpts{
		Code:    args["code"],
		Tier:    args["tier"],
		Outcome: args["outcome"],
		Limit:   50,
	}
	if v := args["since"]; v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}
	if v := args["limit"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return errorResult("limit must be a positive integer")
		}
		opts.Limit = n
	}

	records, err := s.calls.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching call log: " + err.Error())
	}
	return textResult(formatCalls(records))
}

func handleCallStats(ctx context.Context, s *Server, _ map[string]string) ToolCallResult {
	if s.calls == nil {
		return textResult("Call logging is not configured.")
	}
	stats, err := s.calls.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching call stats: " + err.Error())
	}
	return textResult(formatCallStats(stats))
}
