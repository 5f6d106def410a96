// Package ledger implements the Repository Update Ledger: the durable,
// transactional subsystem that tracks, for each subscribed repository
// service, the ordered sequence of update blobs, their per-content-type
// processing state, and the bidirectional mapping between remote-assigned
// and locally-assigned identifiers.
//
// All mutating operations run on the single *Ledger instance's writer
// connection (MaxOpenConns is pinned to 1, mirroring the single-writer
// session the teacher's own sqlite layer assumes for modernc.org/sqlite —
// still true here even though the underlying driver is ncruces/go-sqlite3).
// Read-only queries share that single connection, so within one process
// they are serialized with the writer rather than run concurrently;
// SQLite's own locking protocol arbitrates against other processes.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/hydrusnetwork/repoledger/internal/ledger/collab"
	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// execer abstracts over *sql.DB and *sql.Tx so helpers can run inside or
// outside an explicit transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const (
	defaultChunkSize            = 50
	defaultOutstandingThreshold = 20
)

// Ledger is one repository-update-ledger instance, backed by a single
// SQLite database plus an attached master namespace for the per-service
// map tables.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger

	registry    collab.ServiceRegistry
	files       collab.LocalFileStore
	hashCache   collab.HashInternCache
	tagCache    collab.TagInternCache
	maintenance collab.FileMaintenance

	chunkSize            int
	outstandingThreshold int

	servicesMu sync.Mutex
	services   map[ledgertypes.ServiceID]struct{}

	cacheMu          sync.Mutex
	outstandingCache map[outstandingKey]bool

	invalidTagMu sync.Mutex
	invalidTagID ledgertypes.TagID
	haveInvalid  bool
}

// Option configures a Ledger at construction time.
type Option func(*Ledger)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithChunkSize overrides the definition-ingestion chunk size (default 50).
func WithChunkSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.chunkSize = n
		}
	}
}

// WithOutstandingThreshold overrides the outstanding-work-cache row
// threshold (default 20).
func WithOutstandingThreshold(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.outstandingThreshold = n
		}
	}
}

// New opens (creating if absent) the ledger database at dbPath, attaches
// masterPath under the schema name "master", and returns a ready *Ledger.
// The five collaborators are never owned by the Ledger — they are
// injected by reference and outlive it.
func New(
	ctx context.Context,
	dbPath string,
	masterPath string,
	registry collab.ServiceRegistry,
	files collab.LocalFileStore,
	hashCache collab.HashInternCache,
	tagCache collab.TagInternCache,
	maintenance collab.FileMaintenance,
	opts ...Option,
) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger database %s: %w", dbPath, err)
	}
	// SQLite (via ncruces/go-sqlite3) allows only one writer at a time;
	// pinning the pool to a single connection makes that the pool's
	// single connection rather than fighting it across goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE %q AS master", masterPath)); err != nil {
		db.Close()
		return nil, fmt.Errorf("attach master database %s: %w", masterPath, err)
	}

	l := &Ledger{
		db:                   db,
		logger:               slog.Default(),
		registry:             registry,
		files:                files,
		hashCache:            hashCache,
		tagCache:             tagCache,
		maintenance:          maintenance,
		chunkSize:            defaultChunkSize,
		outstandingThreshold: defaultOutstandingThreshold,
		services:             make(map[ledgertypes.ServiceID]struct{}),
		outstandingCache:     make(map[outstandingKey]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Subscribe brings a newly-subscribed service's tables into existence.
// It is the caller's (service registry's) responsibility to have already
// assigned serviceID; the ledger only owns the per-service tables.
func (l *Ledger) Subscribe(ctx context.Context, serviceID ledgertypes.ServiceID) error {
	return l.createServiceTables(ctx, serviceID)
}

// Unsubscribe tears down a service's tables and forgets its cached state.
func (l *Ledger) Unsubscribe(ctx context.Context, serviceID ledgertypes.ServiceID) error {
	return l.dropServiceTables(ctx, serviceID)
}

// withTx runs fn inside a fresh transaction, committing on success and
// rolling back on any error fn returns (or panics through).
func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError("commit transaction", err)
	}
	committed = true
	return nil
}

// sentinelTagID interns the literal "invalid repository tag" string
// exactly once and caches its local id, used by ProcessRepositoryDefinitions
// when a tag fails to intern with TagTooLarge.
func (l *Ledger) sentinelTagID() (ledgertypes.TagID, error) {
	l.invalidTagMu.Lock()
	defer l.invalidTagMu.Unlock()
	if l.haveInvalid {
		return l.invalidTagID, nil
	}
	id, err := l.tagCache.Intern(ledgertypes.InvalidRepositoryTag)
	if err != nil {
		return 0, fmt.Errorf("intern sentinel tag: %w", err)
	}
	l.invalidTagID = id
	l.haveInvalid = true
	return id, nil
}
