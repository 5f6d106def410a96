package ledger

import (
	"context"
	"fmt"

	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// outstandingKey identifies one memoized cache entry: "does service's
// processed table have at least threshold rows with this content_type and
// processed=false?"
type outstandingKey struct {
	ServiceID   ledgertypes.ServiceID
	ContentType ledgertypes.ContentType
}

// HasLotsOfOutstandingLocalProcessing answers, for each requested content
// type, whether there are at least l.outstandingThreshold unprocessed rows
// of that type for the service. Answers are memoized; see the invalidate*
// helpers below for every mutation point that must clear an entry. The
// threshold is a pacing heuristic, not an invariant.
func (l *Ledger) HasLotsOfOutstandingLocalProcessing(ctx context.Context, serviceID ledgertypes.ServiceID, contentTypes []ledgertypes.ContentType) (map[ledgertypes.ContentType]bool, error) {
	out := make(map[ledgertypes.ContentType]bool, len(contentTypes))
	for _, ct := range contentTypes {
		key := outstandingKey{ServiceID: serviceID, ContentType: ct}

		l.cacheMu.Lock()
		v, ok := l.outstandingCache[key]
		l.cacheMu.Unlock()
		if ok {
			out[ct] = v
			continue
		}

		v, err := l.computeOutstanding(ctx, serviceID, ct)
		if err != nil {
			return nil, err
		}
		l.cacheMu.Lock()
		l.outstandingCache[key] = v
		l.cacheMu.Unlock()
		out[ct] = v
	}
	return out, nil
}

func (l *Ledger) computeOutstanding(ctx context.Context, serviceID ledgertypes.ServiceID, ct ledgertypes.ContentType) (bool, error) {
	names := namesFor(serviceID)
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM (
			SELECT 1 FROM %s WHERE content_type = ? AND processed = 0 LIMIT ?
		)`, names.Processed)
	var n int
	if err := l.db.QueryRowContext(ctx, query, int(ct), l.outstandingThreshold).Scan(&n); err != nil {
		return false, wrapDBErrorf(err, "compute outstanding work for service %d content type %s", serviceID, ct)
	}
	return n >= l.outstandingThreshold, nil
}

// invalidateOutstandingCacheForService clears every memoized content-type
// entry for a service. Called on: registration (whole service),
// reprocess (for any set of content types), authoritative re-sync, table
// drop.
func (l *Ledger) invalidateOutstandingCacheForService(serviceID ledgertypes.ServiceID) {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	for key := range l.outstandingCache {
		if key.ServiceID == serviceID {
			delete(l.outstandingCache, key)
		}
	}
}

// invalidateOutstandingCacheForContentType clears one (service,
// content_type) entry. Called on: mark-processed (one content type), and
// by the Critical-Error Handler for DEFINITIONS.
func (l *Ledger) invalidateOutstandingCacheForContentType(serviceID ledgertypes.ServiceID, ct ledgertypes.ContentType) {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	delete(l.outstandingCache, outstandingKey{ServiceID: serviceID, ContentType: ct})
}
