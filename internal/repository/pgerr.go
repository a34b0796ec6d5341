package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/evetabi/contract/internal/domain"
	"github.com/lib/pq"
)

// Postgres SQLSTATE codes the engine reacts to.
const (
	pqUniqueViolation      = "23505"
	pqQueryCanceled        = "57014"
	pqLockNotAvailable     = "55P03"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"

	oneOpenIndex = "uq_positions_one_open"
)

// classify maps driver errors onto domain sentinels. Unknown errors are
// returned unchanged so callers can wrap them as usual.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	code := string(pqErr.Code)
	switch {
	case code == pqUniqueViolation && pqErr.Constraint == oneOpenIndex:
		return domain.ErrOpenPositionExists
	case code == pqQueryCanceled,
		code == pqLockNotAvailable,
		code == pqSerializationFailure,
		code == pqDeadlockDetected,
		strings.HasPrefix(code, "08"):
		return fmt.Errorf("%w: %s (%s)", domain.ErrTransientStorage, pqErr.Message, code)
	}
	return err
}

// Classify exposes classify to services that run their own statements.
func Classify(err error) error { return classify(err) }
