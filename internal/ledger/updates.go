package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// SetRepositoryUpdateHashes is the Update Registry's authoritative
// replacement operation: the hash_ids named in metadata become the
// complete set of known update hash_ids for the service. Hash_ids present
// before the call but absent from metadata are deleted from all three
// update tables; hash_ids present in metadata are inserted (if new) or
// have their update_index overwritten (if the remote renumbered history).
func (l *Ledger) SetRepositoryUpdateHashes(ctx context.Context, serviceKey ledgertypes.ServiceKey, metadata ledgertypes.UpdateMetadata) error {
	serviceID, err := l.registry.IDOf(serviceKey)
	if err != nil {
		return err
	}
	names := namesFor(serviceID)

	hashBytes := make([][]byte, len(metadata.Updates))
	for i, u := range metadata.Updates {
		hashBytes[i] = u.HashBytes
	}
	hashIDs, err := l.hashCache.InternMany(hashBytes)
	if err != nil {
		return fmt.Errorf("intern update hashes for service %d: %w", serviceID, err)
	}

	err = l.withTx(ctx, func(tx *sql.Tx) error {
		current, err := currentUpdateHashIDs(ctx, tx, names)
		if err != nil {
			return err
		}

		wanted := make(map[ledgertypes.HashID]struct{}, len(hashIDs))
		for _, id := range hashIDs {
			wanted[id] = struct{}{}
		}

		var toDelete []ledgertypes.HashID
		for id := range current {
			if _, ok := wanted[id]; !ok {
				toDelete = append(toDelete, id)
			}
		}
		if err := deleteHashesFromServiceTables(ctx, tx, names, toDelete); err != nil {
			return err
		}

		for i, u := range metadata.Updates {
			hashID := hashIDs[i]
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`INSERT INTO %s (update_index, hash_id) VALUES (?, ?)
				 ON CONFLICT (update_index, hash_id) DO NOTHING`, names.Updates),
				int64(u.Index), int64(hashID)); err != nil {
				return wrapDBErrorf(err, "insert update entry for service %d", serviceID)
			}
			// The remote may renumber history on merges: any other row
			// carrying this hash_id under a stale index must be retired.
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`DELETE FROM %s WHERE hash_id = ? AND update_index <> ?`, names.Updates),
				int64(hashID), int64(u.Index)); err != nil {
				return wrapDBErrorf(err, "renumber update entry for service %d", serviceID)
			}
			if _, ok := current[hashID]; !ok {
				if _, err := tx.ExecContext(ctx, fmt.Sprintf(
					`INSERT OR IGNORE INTO %s (hash_id) VALUES (?)`, names.Unregistered),
					int64(hashID)); err != nil {
					return wrapDBErrorf(err, "insert unregistered entry for service %d", serviceID)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.invalidateOutstandingCacheForService(serviceID)
	if err := l.register(ctx, serviceID, nil); err != nil {
		return err
	}
	return nil
}

// AssociateRepositoryUpdateHashes is the Update Registry's incremental
// operation: inserts-or-ignores the slice into updates/unregistered, then
// re-runs registration for the whole service (a previously-unregistered
// hash elsewhere in the service may now be registerable).
func (l *Ledger) AssociateRepositoryUpdateHashes(ctx context.Context, serviceKey ledgertypes.ServiceKey, slice ledgertypes.UpdateMetadata) error {
	serviceID, err := l.registry.IDOf(serviceKey)
	if err != nil {
		return err
	}
	names := namesFor(serviceID)

	hashBytes := make([][]byte, len(slice.Updates))
	for i, u := range slice.Updates {
		hashBytes[i] = u.HashBytes
	}
	hashIDs, err := l.hashCache.InternMany(hashBytes)
	if err != nil {
		return fmt.Errorf("intern update hashes for service %d: %w", serviceID, err)
	}

	err = l.withTx(ctx, func(tx *sql.Tx) error {
		current, err := currentUpdateHashIDs(ctx, tx, names)
		if err != nil {
			return err
		}
		for i, u := range slice.Updates {
			hashID := hashIDs[i]
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`INSERT OR IGNORE INTO %s (update_index, hash_id) VALUES (?, ?)`, names.Updates),
				int64(u.Index), int64(hashID)); err != nil {
				return wrapDBErrorf(err, "associate update entry for service %d", serviceID)
			}
			if _, ok := current[hashID]; !ok {
				if _, err := tx.ExecContext(ctx, fmt.Sprintf(
					`INSERT OR IGNORE INTO %s (hash_id) VALUES (?)`, names.Unregistered),
					int64(hashID)); err != nil {
					return wrapDBErrorf(err, "insert unregistered entry for service %d", serviceID)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return l.register(ctx, serviceID, nil)
}

// currentUpdateHashIDs returns the full set of hash_ids currently present
// in the service's updates table.
func currentUpdateHashIDs(ctx context.Context, tx *sql.Tx, names tableNames) (map[ledgertypes.HashID]struct{}, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT hash_id FROM %s`, names.Updates))
	if err != nil {
		return nil, wrapDBErrorf(err, "read current update hashes from %s", names.Updates)
	}
	defer rows.Close()

	out := make(map[ledgertypes.HashID]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan current update hash", err)
		}
		out[ledgertypes.HashID(id)] = struct{}{}
	}
	return out, rows.Err()
}

// deleteHashesFromServiceTables removes hashIDs from all three update
// tables for a service. Used when an authoritative re-sync drops hashes
// the remote no longer reports.
func deleteHashesFromServiceTables(ctx context.Context, tx *sql.Tx, names tableNames, hashIDs []ledgertypes.HashID) error {
	for _, id := range hashIDs {
		for _, table := range []string{names.Updates, names.Unregistered, names.Processed} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE hash_id = ?`, table), int64(id)); err != nil {
				return wrapDBErrorf(err, "delete retired hash from %s", table)
			}
		}
	}
	return nil
}
