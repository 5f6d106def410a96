package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// register is the Registration Engine. If hashIDs is nil, every currently
// unregistered hash_id for the service is considered; otherwise only the
// intersection of hashIDs with the unregistered set. Candidates whose
// mime is not yet known are silently skipped and remain unregistered.
// All mutations for one call are one transaction.
func (l *Ledger) register(ctx context.Context, serviceID ledgertypes.ServiceID, hashIDs []ledgertypes.HashID) error {
	names := namesFor(serviceID)

	candidates, err := l.unregisteredCandidates(ctx, names, hashIDs)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	serviceType, err := l.registry.TypeOf(serviceID)
	if err != nil {
		return err
	}
	contentTypeTuple := l.registry.ContentTypesFor(serviceType)

	type registrable struct {
		hashID       ledgertypes.HashID
		contentTypes []ledgertypes.ContentType
	}
	var toRegister []registrable
	for _, hashID := range candidates {
		mime, ok := l.files.MimeOf(hashID)
		if !ok {
			continue
		}
		var cts []ledgertypes.ContentType
		if mime == ledgertypes.MimeApplicationHydrusUpdateDefinitions {
			cts = []ledgertypes.ContentType{ledgertypes.ContentTypeDefinitions}
		} else {
			cts = contentTypeTuple
		}
		toRegister = append(toRegister, registrable{hashID: hashID, contentTypes: cts})
	}
	if len(toRegister) == 0 {
		return nil
	}

	err = l.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range toRegister {
			for _, ct := range r.contentTypes {
				if _, err := tx.ExecContext(ctx, fmt.Sprintf(
					`INSERT OR IGNORE INTO %s (hash_id, content_type, processed) VALUES (?, ?, 0)`, names.Processed),
					int64(r.hashID), int(ct)); err != nil {
					return wrapDBErrorf(err, "register processed rows for service %d", serviceID)
				}
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`DELETE FROM %s WHERE hash_id = ?`, names.Unregistered),
				int64(r.hashID)); err != nil {
				return wrapDBErrorf(err, "clear unregistered row for service %d", serviceID)
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

// unregisteredCandidates resolves the set hash_ids to consider for
// registration: all currently-unregistered hashes if filter is nil,
// otherwise the intersection of filter with the unregistered set.
func (l *Ledger) unregisteredCandidates(ctx context.Context, names tableNames, filter []ledgertypes.HashID) ([]ledgertypes.HashID, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`SELECT hash_id FROM %s`, names.Unregistered))
	if err != nil {
		return nil, wrapDBErrorf(err, "read unregistered hashes from %s", names.Unregistered)
	}
	defer rows.Close()

	unregistered := make(map[ledgertypes.HashID]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan unregistered hash", err)
		}
		unregistered[ledgertypes.HashID(id)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate unregistered hashes", err)
	}

	if filter == nil {
		out := make([]ledgertypes.HashID, 0, len(unregistered))
		for id := range unregistered {
			out = append(out, id)
		}
		return out, nil
	}

	var out []ledgertypes.HashID
	for _, id := range filter {
		if _, ok := unregistered[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// NotifyUpdatesImported is the externally-driven trigger called by the
// local file store when update files land locally: it re-runs
// registration for every subscribed service against the full hash_id
// list (a hash newly present locally may register against any service
// that references it).
func (l *Ledger) NotifyUpdatesImported(ctx context.Context, hashIDs []ledgertypes.HashID) error {
	for _, serviceID := range l.trackedServices() {
		if err := l.register(ctx, serviceID, hashIDs); err != nil {
			return fmt.Errorf("notify updates imported for service %d: %w", serviceID, err)
		}
	}
	return nil
}

// DoOutstandingUpdateRegistration is the startup sweep: re-runs
// registration for every subscribed service against its full
// unregistered set, in case files arrived while the process was not
// running to observe NotifyUpdatesImported calls.
func (l *Ledger) DoOutstandingUpdateRegistration(ctx context.Context) error {
	for _, serviceID := range l.trackedServices() {
		if err := l.register(ctx, serviceID, nil); err != nil {
			return fmt.Errorf("outstanding update registration for service %d: %w", serviceID, err)
		}
	}
	return nil
}
