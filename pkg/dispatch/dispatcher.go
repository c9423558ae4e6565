// Package dispatch resolves, caches and executes transaction requests.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trproxy/trproxy/pkg/backend"
	"github.com/trproxy/trproxy/pkg/cache/tiered"
	"github.com/trproxy/trproxy/pkg/models"
	"github.com/trproxy/trproxy/pkg/preprocess"
	"github.com/trproxy/trproxy/pkg/sanitize"
	"github.com/trproxy/trproxy/pkg/tier"
	"go.uber.org/zap"
)

var (
	// ErrAliasNotFound is returned for an alias with no configured code.
	ErrAliasNotFound = errors.New("alias not found")
	// ErrProfileNotFound is returned for a code with no profile. This is a
	// configuration gap rather than a caller error.
	ErrProfileNotFound = errors.New("transaction profile not found")
	// ErrBadRequest is returned when the request envelope cannot be read.
	ErrBadRequest = errors.New("bad request")
)

// Registry looks up transaction profiles.
type Registry interface {
	ProfileByCode(code string) (models.TransactionProfile, bool)
	CodeByAlias(alias string) (string, bool)
}

// Cache stores envelopes per tier with single-flight misses.
type Cache interface {
	ComputeIfAbsent(name tier.Name, key string, compute tiered.ComputeFunc) (*models.Envelope, tiered.Outcome, error)
}

// Target names the transaction to run, either directly by code or by alias.
type Target struct {
	Code  string
	Alias string
}

// ByCode targets a transaction code.
func ByCode(code string) Target { return Target{Code: code} }

// ByAlias targets a transaction alias.
func ByAlias(alias string) Target { return Target{Alias: alias} }

// Result is the outcome of a dispatched request.
type Result struct {
	Envelope   *models.Envelope
	Code       string
	Tier       tier.Name
	Outcome    string
	HasContKey bool
}

// Dispatcher runs the per-request pipeline: resolve code, load profile,
// preprocess, pick a tier, serve from cache or backend, sanitize.
type Dispatcher struct {
	registry Registry
	cache    Cache
	backend  backend.Executor
	pre      *preprocess.Preprocessor
	log      *zap.Logger
}

// New creates a Dispatcher. The cache is shared by every request.
func New(reg Registry, cache Cache, exec backend.Executor, pre *preprocess.Preprocessor, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if pre == nil {
		pre = preprocess.New(nil, log)
	}
	return &Dispatcher{
		registry: reg,
		cache:    cache,
		backend:  exec,
		pre:      pre,
		log:      log,
	}
}

// ResolveCode returns the transaction code for a target.
func (d *Dispatcher) ResolveCode(target Target) (string, error) {
	if target.Alias == "" {
		return target.Code, nil
	}
	code, ok := d.registry.CodeByAlias(target.Alias)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrAliasNotFound, target.Alias)
	}
	return code, nil
}

// Handle executes a request. raw is the inbound JSON object, either the bare
// request body or an envelope carrying dataHeader and dataBody.
func (d *Dispatcher) Handle(ctx context.Context, target Target, raw models.Record) (*Result, error) {
	code, err := d.ResolveCode(target)
	if err != nil {
		return nil, err
	}

	profile, ok := d.registry.ProfileByCode(code)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, code)
	}

	body, contKey, err := ExtractRequest(raw)
	if err != nil {
		return nil, err
	}
	body = d.pre.Apply(profile, body)

	name := tier.Resolve(profile.TTLSeconds, profile.EvictionExempt)
	res := &Result{Code: code, Tier: name, HasContKey: contKey != ""}

	d.log.Debug("dispatching transaction",
		zap.String("code", code),
		zap.String("alias", target.Alias),
		zap.Int64("ttl", profile.TTLSeconds),
		zap.String("tier", string(name)),
		zap.Bool("cont", res.HasContKey))

	// a shared computation must not fail because the first caller went away
	callCtx := context.WithoutCancel(ctx)
	call := func() (*models.Envelope, error) {
		start := time.Now()
		rec, err := d.backend.Execute(callCtx, code, body, contKey)
		if err != nil {
			d.log.Warn("backend call failed", zap.String("code", code), zap.Error(err))
			return nil, backend.Failure(err)
		}
		env, err := sanitize.Envelope(rec)
		if err != nil {
			d.log.Error("malformed backend response", zap.String("code", code), zap.Error(err))
			return nil, err
		}
		d.log.Info("backend call", zap.String("code", code), zap.Duration("elapsed", time.Since(start)))
		return env, nil
	}

	if name == tier.Uncached {
		env, err := call()
		if err != nil {
			return nil, err
		}
		res.Envelope = env
		res.Outcome = models.OutcomeBypass
		return res, nil
	}

	key, err := NewCacheKey(code, body, contKey)
	if err != nil {
		return nil, err
	}
	env, outcome, err := d.cache.ComputeIfAbsent(name, key.String(), call)
	if err != nil {
		return nil, err
	}
	res.Envelope = env
	res.Outcome = models.OutcomeMiss
	if outcome == tiered.Hit {
		res.Outcome = models.OutcomeHit
	}
	return res, nil
}

// ExtractRequest splits an inbound request into the body sent to the backend
// and the continuation token, if any. A dataBody field holds the body when
// present; otherwise the whole request is the body. The token is read from
// dataHeader.contKey.
func ExtractRequest(raw models.Record) (models.Record, string, error) {
	var contKey string
	if h, ok := raw["dataHeader"]; ok {
		header, ok := h.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("%w: dataHeader must be an object", ErrBadRequest)
		}
		if k, ok := header["contKey"]; ok && k != nil {
			s, ok := k.(string)
			if !ok {
				return nil, "", fmt.Errorf("%w: dataHeader.contKey must be a string", ErrBadRequest)
			}
			contKey = s
		}
	}

	b, ok := raw["dataBody"]
	if !ok {
		if raw == nil {
			return models.Record{}, contKey, nil
		}
		return raw, contKey, nil
	}
	body, ok := b.(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("%w: dataBody must be an object", ErrBadRequest)
	}
	return body, contKey, nil
}
