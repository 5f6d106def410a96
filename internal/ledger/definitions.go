package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hydrusnetwork/repoledger/internal/ledger/collab"
	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// JobHandle is an opaque, cancellable handle for one
// ProcessRepositoryDefinitions invocation.
type JobHandle struct {
	ID        uuid.UUID
	cancelled func() bool
}

// NewJobHandle wraps a cancellation predicate (e.g. backed by a
// context.Context or an atomic flag) in an opaque, loggable handle.
func NewJobHandle(cancelled func() bool) JobHandle {
	return JobHandle{ID: uuid.New(), cancelled: cancelled}
}

func (j JobHandle) isCancelled() bool {
	if j.cancelled == nil {
		return false
	}
	return j.cancelled()
}

// DefinitionIterators names the recognized lazy key-value cursors a
// definition blob's ProcessRepositoryDefinitions call may supply. Unknown
// iterator keys are ignored by the caller before this point; only these
// two are ever consulted.
type DefinitionIterators struct {
	ServiceHashIDsToHashes collab.DefinitionCursor
	ServiceTagIDsToTags    collab.DefinitionCursor
}

// ProcessRepositoryDefinitions ingests a definition blob's contents in
// chunks of l.chunkSize pairs, normalizing remote ids into local ids via
// REPLACE INTO the service's map tables. Resumable: calling it again with
// the same definitionHash and cursor state continues from where the
// previous call left off (cursors carry their own position). Returns the
// number of rows applied in this call. Only once both iterators are
// exhausted is the blob marked processed — the single commit point for
// the blob's DEFINITIONS row.
func (l *Ledger) ProcessRepositoryDefinitions(
	ctx context.Context,
	serviceKey ledgertypes.ServiceKey,
	definitionHash []byte,
	iterators DefinitionIterators,
	contentTypes []ledgertypes.ContentType, // forward-compatible; currently ignored (always {DEFINITIONS})
	job JobHandle,
	deadline time.Time,
) (int, error) {
	serviceID, err := l.registry.IDOf(serviceKey)
	if err != nil {
		return 0, err
	}
	names := namesFor(serviceID)

	applied := 0

	if iterators.ServiceHashIDsToHashes != nil {
		n, done, err := l.ingestHashPairs(ctx, names, serviceID, iterators.ServiceHashIDsToHashes, job, deadline)
		applied += n
		if err != nil {
			return applied, err
		}
		if !done {
			return applied, nil
		}
	}

	if iterators.ServiceTagIDsToTags != nil {
		n, done, err := l.ingestTagPairs(ctx, names, serviceID, iterators.ServiceTagIDsToTags, job, deadline)
		applied += n
		if err != nil {
			return applied, err
		}
		if !done {
			return applied, nil
		}
	}

	if err := l.SetUpdateProcessed(ctx, serviceID, definitionHash, []ledgertypes.ContentType{ledgertypes.ContentTypeDefinitions}); err != nil {
		return applied, err
	}
	return applied, nil
}

// ingestHashPairs pulls (remote_hash_id, remote_hash_bytes) pairs in
// chunks, interning each hash_bytes and REPLACE-ing a row into the
// service's hash_id_map. Returns done=true once the cursor is exhausted.
func (l *Ledger) ingestHashPairs(ctx context.Context, names tableNames, serviceID ledgertypes.ServiceID, cursor collab.DefinitionCursor, job JobHandle, deadline time.Time) (int, bool, error) {
	applied := 0
	for {
		pairs, cursorDone := cursor.Next(l.chunkSize)
		if len(pairs) > 0 {
			hashBytes := make([][]byte, len(pairs))
			for i, p := range pairs {
				hashBytes[i] = p.HashBytes
			}
			localIDs, err := l.hashCache.InternMany(hashBytes)
			if err != nil {
				return applied, false, fmt.Errorf("intern definition hashes for service %d: %w", serviceID, err)
			}

			err = l.withTx(ctx, func(tx *sql.Tx) error {
				for i, p := range pairs {
					if _, err := tx.ExecContext(ctx, fmt.Sprintf(
						`REPLACE INTO %s (service_hash_id, hash_id) VALUES (?, ?)`, names.HashMap),
						p.RemoteID, int64(localIDs[i])); err != nil {
						return wrapDBErrorf(err, "replace hash_id_map row for service %d", serviceID)
					}
				}
				return nil
			})
			if err != nil {
				return applied, false, err
			}
			applied += len(pairs)
		}

		if cursorDone {
			return applied, true, nil
		}
		if time.Now().After(deadline) || job.isCancelled() {
			return applied, false, nil
		}
	}
}

// ingestTagPairs pulls (remote_tag_id, tag_string) pairs in chunks,
// interning each tag via the tag cache. A tag that fails with TagTooLarge
// is still written, mapped to the sentinel "invalid repository tag" id,
// preserving the map's totality.
func (l *Ledger) ingestTagPairs(ctx context.Context, names tableNames, serviceID ledgertypes.ServiceID, cursor collab.DefinitionCursor, job JobHandle, deadline time.Time) (int, bool, error) {
	applied := 0
	for {
		pairs, cursorDone := cursor.Next(l.chunkSize)
		if len(pairs) > 0 {
			type row struct {
				remoteID int64
				localID  ledgertypes.TagID
			}
			rowsToWrite := make([]row, len(pairs))
			for i, p := range pairs {
				localID, err := l.tagCache.Intern(p.Tag)
				if err != nil {
					if errors.Is(err, collab.ErrTagTooLarge) {
						sentinel, sErr := l.sentinelTagID()
						if sErr != nil {
							return applied, false, sErr
						}
						localID = sentinel
					} else {
						return applied, false, fmt.Errorf("intern definition tag for service %d: %w", serviceID, err)
					}
				}
				rowsToWrite[i] = row{remoteID: p.RemoteID, localID: localID}
			}

			err := l.withTx(ctx, func(tx *sql.Tx) error {
				for _, r := range rowsToWrite {
					if _, err := tx.ExecContext(ctx, fmt.Sprintf(
						`REPLACE INTO %s (service_tag_id, tag_id) VALUES (?, ?)`, names.TagMap),
						r.remoteID, int64(r.localID)); err != nil {
						return wrapDBErrorf(err, "replace tag_id_map row for service %d", serviceID)
					}
				}
				return nil
			})
			if err != nil {
				return applied, false, err
			}
			applied += len(pairs)
		}

		if cursorDone {
			return applied, true, nil
		}
		if time.Now().After(deadline) || job.isCancelled() {
			return applied, false, nil
		}
	}
}
