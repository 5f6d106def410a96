package ledger

import (
	"context"
	"fmt"

	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// tableNames is the Table Namer's output: the five per-service table
// identifiers derived deterministically from a service id. updates,
// unregistered and processed live in the main database; hashMap and
// tagMap live in the attached "master" namespace so they survive
// operations that rebuild the main database's indices.
type tableNames struct {
	Updates      string
	Unregistered string
	Processed    string
	HashMap      string
	TagMap       string
}

// namesFor is the Table Namer: deterministic naming parameterized by
// service id.
func namesFor(serviceID ledgertypes.ServiceID) tableNames {
	return tableNames{
		Updates:      fmt.Sprintf("updates_%d", serviceID),
		Unregistered: fmt.Sprintf("unregistered_%d", serviceID),
		Processed:    fmt.Sprintf("processed_%d", serviceID),
		HashMap:      fmt.Sprintf("master.hash_id_map_%d", serviceID),
		TagMap:       fmt.Sprintf("master.tag_id_map_%d", serviceID),
	}
}

// TableColumn names one (table, column) pair in the declared reference
// graph — used by callers that need to know "which tables use hash ids"
// or "which tables use tag ids" across every subscribed service, e.g. for
// broader-database reference integrity checks the ledger itself does not
// perform.
type TableColumn struct {
	Table  string
	Column string
}

// createServiceTables is the Schema Manager's creation step: it brings
// the five tables (and their indices) for serviceID into existence.
// Idempotent — safe to call on every subscription-time startup.
func (l *Ledger) createServiceTables(ctx context.Context, serviceID ledgertypes.ServiceID) error {
	names := namesFor(serviceID)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			update_index INTEGER NOT NULL,
			hash_id INTEGER NOT NULL,
			PRIMARY KEY (update_index, hash_id)
		)`, names.Updates),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_hash_id ON %s(hash_id)`, safeIdent(names.Updates), names.Updates),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			hash_id INTEGER PRIMARY KEY
		)`, names.Unregistered),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			hash_id INTEGER NOT NULL,
			content_type INTEGER NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (hash_id, content_type)
		)`, names.Processed),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_content_type ON %s(content_type)`, safeIdent(names.Processed), names.Processed),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			service_hash_id INTEGER PRIMARY KEY,
			hash_id INTEGER NOT NULL
		)`, names.HashMap),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			service_tag_id INTEGER PRIMARY KEY,
			tag_id INTEGER NOT NULL
		)`, names.TagMap),
	}

	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return wrapDBErrorf(err, "create service tables for %d", serviceID)
		}
	}

	l.trackService(serviceID)
	return nil
}

// dropServiceTables is the Schema Manager's teardown step, invoked on
// unsubscription. Clears the outstanding-work cache for the service.
func (l *Ledger) dropServiceTables(ctx context.Context, serviceID ledgertypes.ServiceID) error {
	names := namesFor(serviceID)
	for _, t := range []string{names.Updates, names.Unregistered, names.Processed, names.HashMap, names.TagMap} {
		if _, err := l.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t)); err != nil {
			return wrapDBErrorf(err, "drop service tables for %d", serviceID)
		}
	}
	l.untrackService(serviceID)
	l.invalidateOutstandingCacheForService(serviceID)
	return nil
}

func (l *Ledger) trackService(serviceID ledgertypes.ServiceID) {
	l.servicesMu.Lock()
	defer l.servicesMu.Unlock()
	l.services[serviceID] = struct{}{}
}

func (l *Ledger) untrackService(serviceID ledgertypes.ServiceID) {
	l.servicesMu.Lock()
	defer l.servicesMu.Unlock()
	delete(l.services, serviceID)
}

func (l *Ledger) trackedServices() []ledgertypes.ServiceID {
	l.servicesMu.Lock()
	defer l.servicesMu.Unlock()
	out := make([]ledgertypes.ServiceID, 0, len(l.services))
	for id := range l.services {
		out = append(out, id)
	}
	return out
}

// HashReferencingTables reports, across every subscribed service, the
// (table, column) pairs that carry a local hash id. Equivalent to the
// source's branch on content_type for this query, flattened into a
// catalog: (updates, hash_id) and (hash_map, hash_id) per service.
func (l *Ledger) HashReferencingTables() []TableColumn {
	var out []TableColumn
	for _, id := range l.trackedServices() {
		n := namesFor(id)
		out = append(out, TableColumn{Table: n.Updates, Column: "hash_id"})
		out = append(out, TableColumn{Table: n.HashMap, Column: "hash_id"})
	}
	return out
}

// TagReferencingTables reports, across every subscribed service, the
// (table, column) pairs that carry a local tag id: (tag_map, tag_id) per
// service.
func (l *Ledger) TagReferencingTables() []TableColumn {
	var out []TableColumn
	for _, id := range l.trackedServices() {
		n := namesFor(id)
		out = append(out, TableColumn{Table: n.TagMap, Column: "tag_id"})
	}
	return out
}

// safeIdent strips the "master." schema qualifier for use inside an index
// name, since SQLite index names may not be schema-qualified the same way
// table names in CREATE INDEX ON can be.
func safeIdent(table string) string {
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			return table[i+1:]
		}
	}
	return table
}
