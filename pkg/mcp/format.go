package mcp

import (
	"fmt"
	"strings"

	"github.com/trproxy/trproxy/pkg/models"
	"github.com/trproxy/trproxy/pkg/tier"
)

func formatTierStats(stats []models.TierStats) string {
	if len(stats) == 0 {
		return "No cache tiers reported."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %8s %8s %10s %10s %8s %7s\n",
		"Tier", "Entries", "Capacity", "Hits", "Misses", "Hit Rate", "Sweeps")
	b.WriteString(strings.Repeat("-", 69) + "\n")
	for _, s := range stats {
		rate := "-"
		if total := s.Hits + s.Misses; total > 0 {
			rate = fmt.Sprintf("%.1f%%", float64(s.Hits)/float64(total)*100)
		}
		name := s.Name
		if s.Exempt {
			name += "*"
		}
		fmt.Fprintf(&b, "%-12s %8d %8d %10d %10d %8s %7d\n",
			name, s.Entries, s.Capacity, s.Hits, s.Misses, rate, s.Sweeps)
	}
	b.WriteString("* not cleared by the scheduled sweep\n")
	return b.String()
}

func formatProfiles(profiles []models.TransactionProfile) string {
	if len(profiles) == 0 {
		return "No transaction profiles configured."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-20s %8s %-12s %-12s\n", "Code", "Alias", "TTL", "Array Field", "Tier")
	b.WriteString(strings.Repeat("-", 66) + "\n")
	for _, p := range profiles {
		fmt.Fprintf(&b, "%-10s %-20s %7ds %-12s %-12s\n",
			p.Code, p.Alias, p.TTLSeconds, p.ArrayFieldName, tier.Resolve(p.TTLSeconds, p.EvictionExempt))
	}
	return b.String()
}

func formatCalls(records []models.CallRecord) string {
	if len(records) == 0 {
		return "No call records found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-10s %-12s %-7s %6s %8s %-20s\n",
		"Request ID", "Code", "Tier", "Cache", "Status", "Latency", "Time")
	b.WriteString(strings.Repeat("-", 107) + "\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%-38s %-10s %-12s %-7s %6d %6dms %-20s\n",
			r.RequestID, r.Code, r.Tier, r.Outcome, r.StatusCode, r.LatencyMs,
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatCallStats(stats []models.CallStat) string {
	if len(stats) == 0 {
		return "No call stats found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-12s %8s %8s %8s\n", "Code", "Day", "Calls", "Hits", "Errors")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-10s %-12s %8d %8d %8d\n", s.Code, s.Day, s.Calls, s.Hits, s.Errors)
	}
	return b.String()
}
