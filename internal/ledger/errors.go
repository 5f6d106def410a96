package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/hydrusnetwork/repoledger/internal/ledger/collab"
	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// Sentinel errors for common ledger/database conditions.
var (
	ErrNotFound  = errors.New("not found")
	ErrInvalidID = errors.New("invalid ID")
	ErrConflict  = errors.New("conflict")
)

// wrapDBError wraps a database error with operation context. It converts
// sql.ErrNoRows to ErrNotFound for consistent error handling.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf wraps a database error with formatted operation context.
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	op := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// CriticalRepositoryDefinition is raised by the Critical-Error Handler when
// a definition map lookup fails. By the time it is returned, the remedial
// state (unprocessed DEFINITIONS rows, enqueued maintenance jobs) has
// already been committed.
type CriticalRepositoryDefinition struct {
	ServiceID ledgertypes.ServiceID
	Kind      string // "hash_id" or "tag_id"
	BadIDs    []int64
}

func (e *CriticalRepositoryDefinition) Error() string {
	return fmt.Sprintf(
		"service %d: %d unresolved %s(s) — definition map is inconsistent with the local intern cache; "+
			"all DEFINITIONS have been marked for reprocessing and affected files queued for integrity checks",
		e.ServiceID, len(e.BadIDs), e.Kind,
	)
}

// ErrTagTooLarge mirrors collab.ErrTagTooLarge locally so callers that only
// import the ledger package can still errors.Is against it without
// depending on collab.
var ErrTagTooLarge error = collab.ErrTagTooLarge
