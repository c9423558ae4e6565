// Package preprocess canonicalizes inbound request bodies before they are
// used as a cache key or sent to the backend.
package preprocess

import (
	"sort"

	"github.com/trproxy/trproxy/pkg/models"
	"go.uber.org/zap"
)

// InputRecordField is the metadata field naming the repeating record group
// of a request. The backend reads it to find the array input.
const InputRecordField = "_INPUT_RECORD_NAME"

// RuleTable maps a transaction code to the rewrite rules applied to its requests.
type RuleTable map[string][]models.RewriteRule

// DefaultRules returns the built-in rewrite rules.
func DefaultRules() RuleTable {
	return RuleTable{
		// index info is looked up by index id downstream, callers send the index type
		"IVCA0060": {
			{
				Source: "indTypCd",
				Target: "indxId",
				Values: map[string]string{"001": "KG001P", "301": "OG001P"},
			},
		},
	}
}

// Merge returns a table holding the rules of t followed by those of other.
func (t RuleTable) Merge(other RuleTable) RuleTable {
	out := make(RuleTable, len(t)+len(other))
	for code, rules := range t {
		out[code] = append([]models.RewriteRule(nil), rules...)
	}
	for code, rules := range other {
		out[code] = append(out[code], rules...)
	}
	return out
}

// Preprocessor applies array tagging and code-specific rewrite rules.
type Preprocessor struct {
	rules RuleTable
	log   *zap.Logger
}

// New creates a Preprocessor with the given rule table.
func New(rules RuleTable, log *zap.Logger) *Preprocessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Preprocessor{rules: rules, log: log}
}

// Apply returns a preprocessed copy of body. The input is not modified.
func (p *Preprocessor) Apply(profile models.TransactionProfile, body models.Record) models.Record {
	out := make(models.Record, len(body)+1)
	for k, v := range body {
		out[k] = v
	}

	if profile.ArrayFieldName != "" {
		if name, ok := recordGroup(body, profile.ArrayFieldName); ok {
			out[InputRecordField] = name
		}
	}

	for _, rule := range p.rules[profile.Code] {
		src, ok := body[rule.Source].(string)
		if !ok {
			continue
		}
		if mapped, ok := rule.Values[src]; ok {
			p.log.Debug("rewrite rule applied",
				zap.String("code", profile.Code),
				zap.String("source", rule.Source),
				zap.String("target", rule.Target),
				zap.String("value", mapped))
			out[rule.Target] = mapped
		}
	}
	return out
}

// recordGroup picks the sequence-valued field naming the repeating group:
// the declared field when it holds a sequence, else the first one by name.
func recordGroup(body models.Record, declared string) (string, bool) {
	if _, ok := body[declared].([]any); ok {
		return declared, true
	}
	var names []string
	for k, v := range body {
		if _, ok := v.([]any); ok {
			names = append(names, k)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}
