package models

import "time"

// TierStats reports the state of a single cache tier.
type TierStats struct {
	Name     string        `json:"name"`
	TTL      time.Duration `json:"ttl"`
	Capacity int           `json:"capacity"`
	Exempt   bool          `json:"exempt"`
	Entries  int           `json:"entries"`
	Hits     int64         `json:"hits"`
	Misses   int64         `json:"misses"`
	Sweeps   int64         `json:"sweeps"`
}
