package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// Readiness is the result of GetRepositoryUpdateHashesICanProcess.
type Readiness struct {
	FirstDefinitionsPass bool
	DefinitionWork       []WorkItem
	FirstContentPass     bool
	ContentWork          []WorkItem
}

// WorkItem names one processable (remote hash, outstanding content types)
// pair.
type WorkItem struct {
	HashBytes    []byte
	ContentTypes []ledgertypes.ContentType
}

// GetRepositoryUpdateHashesICanProcess enforces the global ordering
// invariant: it never names an update at index i while any update at
// index <= i is unregistered or missing locally. See spec §4.4 for the
// two-stage cutoff (first-unregistered blocker, then the ascending
// locality scan).
func (l *Ledger) GetRepositoryUpdateHashesICanProcess(ctx context.Context, serviceKey ledgertypes.ServiceKey, contentTypesWanted []ledgertypes.ContentType) (Readiness, error) {
	serviceID, err := l.registry.IDOf(serviceKey)
	if err != nil {
		return Readiness{}, err
	}
	names := namesFor(serviceID)

	var firstDefinitionsPass, firstContentPass bool
	if err := l.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT NOT EXISTS (SELECT 1 FROM %s WHERE content_type = ? AND processed = 1)`, names.Processed),
		int(ledgertypes.ContentTypeDefinitions)).Scan(&firstDefinitionsPass); err != nil {
		return Readiness{}, wrapDBErrorf(err, "compute first-definitions-pass for service %d", serviceID)
	}
	if err := l.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT NOT EXISTS (SELECT 1 FROM %s WHERE content_type <> ? AND processed = 1)`, names.Processed),
		int(ledgertypes.ContentTypeDefinitions)).Scan(&firstContentPass); err != nil {
		return Readiness{}, wrapDBErrorf(err, "compute first-content-pass for service %d", serviceID)
	}

	minUnregisteredIndex, haveBlocker, err := l.minUnregisteredUpdateIndex(ctx, names)
	if err != nil {
		return Readiness{}, err
	}

	candidates, err := l.unprocessedCandidates(ctx, names, contentTypesWanted, minUnregisteredIndex, haveBlocker)
	if err != nil {
		return Readiness{}, err
	}

	filtered, err := l.applyLocalityFilter(candidates)
	if err != nil {
		return Readiness{}, err
	}

	byHash := make(map[ledgertypes.HashID][]ledgertypes.ContentType)
	for _, c := range filtered {
		byHash[c.hashID] = append(byHash[c.hashID], c.contentType)
	}

	hashIDs := make([]ledgertypes.HashID, 0, len(byHash))
	for h := range byHash {
		hashIDs = append(hashIDs, h)
	}
	bytesByID, err := l.hashCache.BytesOfMany(hashIDs)
	if err != nil {
		return Readiness{}, fmt.Errorf("resolve candidate hash bytes for service %d: %w", serviceID, err)
	}

	var readiness Readiness
	readiness.FirstDefinitionsPass = firstDefinitionsPass
	readiness.FirstContentPass = firstContentPass
	for h, cts := range byHash {
		item := WorkItem{HashBytes: bytesByID[h], ContentTypes: cts}
		if isExactlyDefinitions(cts) {
			readiness.DefinitionWork = append(readiness.DefinitionWork, item)
		} else {
			readiness.ContentWork = append(readiness.ContentWork, item)
		}
	}
	return readiness, nil
}

func isExactlyDefinitions(cts []ledgertypes.ContentType) bool {
	return len(cts) == 1 && cts[0] == ledgertypes.ContentTypeDefinitions
}

// minUnregisteredUpdateIndex finds the earliest update_index among hashes
// still in the unregistered table — the first ordering blocker.
func (l *Ledger) minUnregisteredUpdateIndex(ctx context.Context, names tableNames) (ledgertypes.UpdateIndex, bool, error) {
	query := fmt.Sprintf(`
		SELECT MIN(u.update_index) FROM %s u
		JOIN %s r ON r.hash_id = u.hash_id`, names.Updates, names.Unregistered)
	var idx sql.NullInt64
	row := l.db.QueryRowContext(ctx, query)
	if err := row.Scan(&idx); err != nil {
		return 0, false, wrapDBErrorf(err, "compute min unregistered update index")
	}
	if !idx.Valid {
		return 0, false, nil
	}
	return ledgertypes.UpdateIndex(idx.Int64), true, nil
}

type candidateRow struct {
	hashID      ledgertypes.HashID
	updateIndex ledgertypes.UpdateIndex
	contentType ledgertypes.ContentType
}

// unprocessedCandidates selects processed=false rows whose content type is
// wanted and whose update_index is strictly below the unregistered
// blocker (if any).
func (l *Ledger) unprocessedCandidates(ctx context.Context, names tableNames, contentTypesWanted []ledgertypes.ContentType, blocker ledgertypes.UpdateIndex, haveBlocker bool) ([]candidateRow, error) {
	if len(contentTypesWanted) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(contentTypesWanted))
	args := make([]interface{}, 0, len(contentTypesWanted)+1)
	for i, ct := range contentTypesWanted {
		placeholders[i] = "?"
		args = append(args, int(ct))
	}
	query := fmt.Sprintf(`
		SELECT u.hash_id, u.update_index, p.content_type
		FROM %s p
		JOIN %s u ON u.hash_id = p.hash_id
		WHERE p.processed = 0 AND p.content_type IN (%s)`,
		names.Processed, names.Updates, strings.Join(placeholders, ","))
	if haveBlocker {
		query += " AND u.update_index < ?"
		args = append(args, int64(blocker))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErrorf(err, "select unprocessed candidates")
	}
	defer rows.Close()

	var out []candidateRow
	for rows.Next() {
		var hashID, updateIndex int64
		var ct int
		if err := rows.Scan(&hashID, &updateIndex, &ct); err != nil {
			return nil, wrapDBError("scan unprocessed candidate", err)
		}
		out = append(out, candidateRow{
			hashID:      ledgertypes.HashID(hashID),
			updateIndex: ledgertypes.UpdateIndex(updateIndex),
			contentType: ledgertypes.ContentType(ct),
		})
	}
	return out, rows.Err()
}

// applyLocalityFilter is the second ordering gate: scanning update
// indices in ascending order, the first index whose unprocessed hashes
// are not all locally present becomes a cutoff; every candidate at or
// after that index is discarded.
func (l *Ledger) applyLocalityFilter(candidates []candidateRow) ([]candidateRow, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	hashIDSet := make(map[ledgertypes.HashID]struct{})
	for _, c := range candidates {
		hashIDSet[c.hashID] = struct{}{}
	}
	hashIDs := make([]ledgertypes.HashID, 0, len(hashIDSet))
	for h := range hashIDSet {
		hashIDs = append(hashIDs, h)
	}
	locallyPresent := l.files.FilterToLocallyPresent(hashIDs)

	byIndex := make(map[ledgertypes.UpdateIndex][]ledgertypes.HashID)
	for _, c := range candidates {
		byIndex[c.updateIndex] = append(byIndex[c.updateIndex], c.hashID)
	}
	indices := make([]ledgertypes.UpdateIndex, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	cutoff := ledgertypes.UpdateIndex(0)
	haveCutoff := false
	for _, idx := range indices {
		allLocal := true
		for _, h := range byIndex[idx] {
			if _, ok := locallyPresent[h]; !ok {
				allLocal = false
				break
			}
		}
		if !allLocal {
			cutoff = idx
			haveCutoff = true
			break
		}
	}
	if !haveCutoff {
		return candidates, nil
	}

	out := candidates[:0:0]
	for _, c := range candidates {
		if c.updateIndex < cutoff {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetRepositoryUpdateHashesIDoNotHave returns, in ascending update_index
// order, the remote hash bytes of every update whose file is not present
// in the local file store. Order preservation matters: callers fetch in
// history order.
func (l *Ledger) GetRepositoryUpdateHashesIDoNotHave(ctx context.Context, serviceKey ledgertypes.ServiceKey) ([][]byte, error) {
	serviceID, err := l.registry.IDOf(serviceKey)
	if err != nil {
		return nil, err
	}
	names := namesFor(serviceID)

	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT hash_id, MIN(update_index) AS idx FROM %s GROUP BY hash_id ORDER BY idx ASC`, names.Updates))
	if err != nil {
		return nil, wrapDBErrorf(err, "list update hashes for service %d", serviceID)
	}
	defer rows.Close()

	var orderedIDs []ledgertypes.HashID
	for rows.Next() {
		var hashID, idx int64
		if err := rows.Scan(&hashID, &idx); err != nil {
			return nil, wrapDBError("scan ordered update hash", err)
		}
		orderedIDs = append(orderedIDs, ledgertypes.HashID(hashID))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate ordered update hashes", err)
	}

	local := l.files.FilterToLocallyPresent(orderedIDs)
	bytesByID, err := l.hashCache.BytesOfMany(orderedIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve missing hash bytes for service %d: %w", serviceID, err)
	}

	var out [][]byte
	for _, id := range orderedIDs {
		if _, ok := local[id]; ok {
			continue
		}
		out = append(out, bytesByID[id])
	}
	return out, nil
}
