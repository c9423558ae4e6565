// Package backend executes transactions against the synchronous transaction
// backend.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/trproxy/trproxy/pkg/models"
)

// ErrBackendFailure wraps every failure reported by an Executor.
var ErrBackendFailure = errors.New("backend failure")

// Executor runs a single transaction. contKey is the continuation token of a
// multi-page query; it is empty for the first page.
type Executor interface {
	Execute(ctx context.Context, code string, body models.Record, contKey string) (models.Record, error)
}

// Failure wraps err as a backend failure unless it already is one.
func Failure(err error) error {
	if err == nil || errors.Is(err, ErrBackendFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrBackendFailure, err)
}
