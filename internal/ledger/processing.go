package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// SetUpdateProcessed flips the (hash_id, content_type) row to processed
// for every content type named, invalidating the outstanding-work cache
// for each content type individually.
func (l *Ledger) SetUpdateProcessed(ctx context.Context, serviceID ledgertypes.ServiceID, updateHashBytes []byte, contentTypes []ledgertypes.ContentType) error {
	hashID, err := l.hashCache.Intern(updateHashBytes)
	if err != nil {
		return fmt.Errorf("intern update hash: %w", err)
	}
	names := namesFor(serviceID)

	err = l.withTx(ctx, func(tx *sql.Tx) error {
		for _, ct := range contentTypes {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`UPDATE %s SET processed = 1 WHERE hash_id = ? AND content_type = ?`, names.Processed),
				int64(hashID), int(ct)); err != nil {
				return wrapDBErrorf(err, "mark processed for service %d", serviceID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, ct := range contentTypes {
		l.invalidateOutstandingCacheForContentType(serviceID, ct)
	}
	return nil
}

// ReprocessRepository flips every row of the named content types back to
// unprocessed for the service. It does not delete the corresponding
// definition maps — the re-processed blob will REPLACE them. Idempotent.
func (l *Ledger) ReprocessRepository(ctx context.Context, serviceKey ledgertypes.ServiceKey, contentTypes []ledgertypes.ContentType) error {
	serviceID, err := l.registry.IDOf(serviceKey)
	if err != nil {
		return err
	}
	names := namesFor(serviceID)

	err = l.withTx(ctx, func(tx *sql.Tx) error {
		for _, ct := range contentTypes {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`UPDATE %s SET processed = 0 WHERE content_type = ?`, names.Processed),
				int(ct)); err != nil {
				return wrapDBErrorf(err, "reprocess service %d", serviceID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.invalidateOutstandingCacheForService(serviceID)
	return nil
}

// GetRepositoryProgress answers "how much is done" for a service: total
// and locally-present update counts, and per-content-type processed vs
// total counts.
func (l *Ledger) GetRepositoryProgress(ctx context.Context, serviceKey ledgertypes.ServiceKey) (Progress, error) {
	serviceID, err := l.registry.IDOf(serviceKey)
	if err != nil {
		return Progress{}, err
	}
	names := namesFor(serviceID)

	var numTotal int
	if err := l.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(DISTINCT hash_id) FROM %s`, names.Updates)).Scan(&numTotal); err != nil {
		return Progress{}, wrapDBErrorf(err, "count total updates for service %d", serviceID)
	}

	allHashIDs, err := allUpdateHashIDs(ctx, l.db, names)
	if err != nil {
		return Progress{}, err
	}
	local := l.files.FilterToLocallyPresent(allHashIDs)

	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT content_type, processed, COUNT(*) FROM %s GROUP BY content_type, processed`, names.Processed))
	if err != nil {
		return Progress{}, wrapDBErrorf(err, "group processed counts for service %d", serviceID)
	}
	defer rows.Close()

	totalByType := make(map[ledgertypes.ContentType]int)
	processedByType := make(map[ledgertypes.ContentType]int)
	for rows.Next() {
		var ct int
		var processed bool
		var count int
		if err := rows.Scan(&ct, &processed, &count); err != nil {
			return Progress{}, wrapDBError("scan processed group count", err)
		}
		contentType := ledgertypes.ContentType(ct)
		totalByType[contentType] += count
		if processed {
			processedByType[contentType] += count
		} else if _, ok := processedByType[contentType]; !ok {
			processedByType[contentType] = 0
		}
	}
	if err := rows.Err(); err != nil {
		return Progress{}, wrapDBError("iterate processed group counts", err)
	}

	return Progress{
		NumLocalUpdates:        len(local),
		NumTotalUpdates:        numTotal,
		ProcessedByContentType: processedByType,
		TotalByContentType:     totalByType,
	}, nil
}

// Progress is the result of GetRepositoryProgress.
type Progress struct {
	NumLocalUpdates        int
	NumTotalUpdates        int
	ProcessedByContentType map[ledgertypes.ContentType]int
	TotalByContentType     map[ledgertypes.ContentType]int
}

func allUpdateHashIDs(ctx context.Context, db *sql.DB, names tableNames) ([]ledgertypes.HashID, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT hash_id FROM %s`, names.Updates))
	if err != nil {
		return nil, wrapDBErrorf(err, "read update hashes from %s", names.Updates)
	}
	defer rows.Close()

	var out []ledgertypes.HashID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan update hash", err)
		}
		out = append(out, ledgertypes.HashID(id))
	}
	return out, rows.Err()
}
