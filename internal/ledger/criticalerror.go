package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// NormaliseServiceHashId resolves a single remote hash id to its local
// hash id via the service's hash_id_map. A missing row invokes the
// Critical-Error Handler.
func (l *Ledger) NormaliseServiceHashId(ctx context.Context, serviceID ledgertypes.ServiceID, serviceHashID int64) (ledgertypes.HashID, error) {
	names := namesFor(serviceID)
	var hashID int64
	err := l.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT hash_id FROM %s WHERE service_hash_id = ?`, names.HashMap), serviceHashID).Scan(&hashID)
	if err == nil {
		return ledgertypes.HashID(hashID), nil
	}
	if err != sql.ErrNoRows {
		return 0, wrapDBErrorf(err, "normalise service hash id for service %d", serviceID)
	}
	if handlerErr := l.handleCriticalDefinitionError(ctx, serviceID, "hash_id", []int64{serviceHashID}); handlerErr != nil {
		return 0, handlerErr
	}
	return 0, &CriticalRepositoryDefinition{ServiceID: serviceID, Kind: "hash_id", BadIDs: []int64{serviceHashID}}
}

// NormaliseServiceHashIds resolves many remote hash ids at once via a
// bulk join. hash_id_map is a function, not an injection — a hash_id may
// legitimately be the image of more than one service_hash_id — so the
// matched rows are deduplicated by distinct service_hash_id before the
// cardinality comparison, rather than comparing raw row counts (see
// DESIGN.md for why the source's latent bug is not reproduced here).
func (l *Ledger) NormaliseServiceHashIds(ctx context.Context, serviceID ledgertypes.ServiceID, serviceHashIDs []int64) (map[int64]ledgertypes.HashID, error) {
	names := namesFor(serviceID)
	if len(serviceHashIDs) == 0 {
		return map[int64]ledgertypes.HashID{}, nil
	}

	placeholders := make([]string, len(serviceHashIDs))
	args := make([]interface{}, len(serviceHashIDs))
	for i, id := range serviceHashIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT DISTINCT service_hash_id, hash_id FROM %s WHERE service_hash_id IN (%s)`,
		names.HashMap, strings.Join(placeholders, ","))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErrorf(err, "bulk normalise hash ids for service %d", serviceID)
	}
	defer rows.Close()

	resolved := make(map[int64]ledgertypes.HashID, len(serviceHashIDs))
	for rows.Next() {
		var remote, local int64
		if err := rows.Scan(&remote, &local); err != nil {
			return nil, wrapDBError("scan bulk hash id row", err)
		}
		resolved[remote] = ledgertypes.HashID(local)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate bulk hash id rows", err)
	}

	if len(resolved) == len(dedupeInt64(serviceHashIDs)) {
		return resolved, nil
	}

	var missing []int64
	for _, id := range serviceHashIDs {
		if _, ok := resolved[id]; !ok {
			missing = append(missing, id)
		}
	}
	if handlerErr := l.handleCriticalDefinitionError(ctx, serviceID, "hash_id", missing); handlerErr != nil {
		return nil, handlerErr
	}
	return nil, &CriticalRepositoryDefinition{ServiceID: serviceID, Kind: "hash_id", BadIDs: missing}
}

// NormaliseServiceTagId is the single-row analogue for tags.
func (l *Ledger) NormaliseServiceTagId(ctx context.Context, serviceID ledgertypes.ServiceID, serviceTagID int64) (ledgertypes.TagID, error) {
	names := namesFor(serviceID)
	var tagID int64
	err := l.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT tag_id FROM %s WHERE service_tag_id = ?`, names.TagMap), serviceTagID).Scan(&tagID)
	if err == nil {
		return ledgertypes.TagID(tagID), nil
	}
	if err != sql.ErrNoRows {
		return 0, wrapDBErrorf(err, "normalise service tag id for service %d", serviceID)
	}
	if handlerErr := l.handleCriticalDefinitionError(ctx, serviceID, "tag_id", []int64{serviceTagID}); handlerErr != nil {
		return 0, handlerErr
	}
	return 0, &CriticalRepositoryDefinition{ServiceID: serviceID, Kind: "tag_id", BadIDs: []int64{serviceTagID}}
}

// handleCriticalDefinitionError is the Critical-Error Handler (§4.8): it
// marks every DEFINITIONS row unprocessed, schedules integrity and
// metadata maintenance jobs for every locally-present update hash, and
// commits the remedial work in a fresh transaction before the caller
// raises CriticalRepositoryDefinition.
func (l *Ledger) handleCriticalDefinitionError(ctx context.Context, serviceID ledgertypes.ServiceID, kind string, badIDs []int64) error {
	names := namesFor(serviceID)

	err := l.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET processed = 0 WHERE content_type = ?`, names.Processed),
			int(ledgertypes.ContentTypeDefinitions)); err != nil {
			return wrapDBErrorf(err, "mark definitions unprocessed for service %d", serviceID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("critical-error remediation (step 1) for service %d: %w", serviceID, err)
	}

	allHashIDs, err := allUpdateHashIDs(ctx, l.db, names)
	if err != nil {
		return fmt.Errorf("critical-error remediation (step 2 lookup) for service %d: %w", serviceID, err)
	}
	localSet := l.files.FilterToLocallyPresent(allHashIDs)
	var localHashIDs []ledgertypes.HashID
	for _, id := range allHashIDs {
		if _, ok := localSet[id]; ok {
			localHashIDs = append(localHashIDs, id)
		}
	}
	if len(localHashIDs) > 0 {
		l.maintenance.Enqueue(localHashIDs, ledgertypes.FileMaintenanceIntegrityData)
		l.maintenance.Enqueue(localHashIDs, ledgertypes.FileMaintenanceMetadata)
	}

	l.invalidateOutstandingCacheForContentType(serviceID, ledgertypes.ContentTypeDefinitions)

	l.logger.Error("critical repository definition error",
		"service_id", serviceID, "kind", kind, "bad_ids", badIDs)
	return nil
}

func dedupeInt64(in []int64) []int64 {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
