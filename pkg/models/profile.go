package models

// TransactionProfile is the per-code metadata loaded at startup.
type TransactionProfile struct {
	Code           string `json:"code"`
	TTLSeconds     int64  `json:"ttl_seconds"`
	Alias          string `json:"alias,omitempty"`
	ArrayFieldName string `json:"array_field_name,omitempty"`
	EvictionExempt bool   `json:"eviction_exempt"`
}

// RewriteRule copies a mapped value of Source into Target before dispatch.
// Values not present in the mapping leave the request untouched.
type RewriteRule struct {
	Source string            `yaml:"source" json:"source"`
	Target string            `yaml:"target" json:"target"`
	Values map[string]string `yaml:"values" json:"values"`
}
