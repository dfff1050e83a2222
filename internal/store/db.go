// ABOUTME: SQLite-backed persistence gateway (C1): schema, transactions, and connection setup.
// ABOUTME: Grounded on spec/store/sqlite.go's WAL + foreign_keys + schema-on-open pattern.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the typed persistence gateway for workflow runs, run-nodes,
// run-edges, artifacts, routing decisions, and join barriers. All mutating
// operations run inside a single serialisable transaction per call so that
// barrier, artifact, and status updates are observed atomically (§4.1).
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id TEXT PRIMARY KEY,
	workflow_tree_id TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS run_nodes (
	id TEXT PRIMARY KEY,
	workflow_run_id TEXT NOT NULL,
	tree_node_id TEXT NOT NULL,
	node_key TEXT NOT NULL,
	node_role TEXT NOT NULL,
	status TEXT NOT NULL,
	sequence_index INTEGER NOT NULL,
	sequence_path TEXT NOT NULL,
	lineage_depth INTEGER NOT NULL,
	spawner_node_id TEXT,
	join_node_id TEXT,
	attempt INTEGER NOT NULL DEFAULT 1,
	started_at TEXT,
	completed_at TEXT,
	max_retries INTEGER NOT NULL DEFAULT 0,
	max_children INTEGER NOT NULL DEFAULT 0,
	node_type TEXT NOT NULL,
	provider TEXT,
	model TEXT,
	execution_permissions TEXT,
	error_handler_config TEXT,
	prompt TEXT NOT NULL DEFAULT '',
	prompt_content_type TEXT NOT NULL DEFAULT 'text/plain',
	FOREIGN KEY (workflow_run_id) REFERENCES workflow_runs(id)
);
CREATE INDEX IF NOT EXISTS idx_run_nodes_run ON run_nodes(workflow_run_id);

CREATE TABLE IF NOT EXISTS run_edges (
	id TEXT PRIMARY KEY,
	workflow_run_id TEXT NOT NULL,
	source_run_node_id TEXT NOT NULL,
	target_run_node_id TEXT NOT NULL,
	route_on TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	auto INTEGER NOT NULL DEFAULT 0,
	guard_expression TEXT,
	edge_kind TEXT NOT NULL,
	FOREIGN KEY (workflow_run_id) REFERENCES workflow_runs(id)
);
CREATE INDEX IF NOT EXISTS idx_run_edges_run ON run_edges(workflow_run_id);

CREATE TABLE IF NOT EXISTS routing_decisions (
	id TEXT PRIMARY KEY,
	workflow_run_id TEXT NOT NULL,
	run_node_id TEXT NOT NULL,
	decision_type TEXT NOT NULL,
	created_at TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	raw_output TEXT NOT NULL DEFAULT '{}',
	FOREIGN KEY (workflow_run_id) REFERENCES workflow_runs(id)
);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_run_node ON routing_decisions(workflow_run_id, run_node_id);

CREATE TABLE IF NOT EXISTS phase_artifacts (
	id TEXT PRIMARY KEY,
	workflow_run_id TEXT NOT NULL,
	run_node_id TEXT NOT NULL,
	artifact_type TEXT NOT NULL,
	content_type TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	FOREIGN KEY (workflow_run_id) REFERENCES workflow_runs(id)
);
CREATE INDEX IF NOT EXISTS idx_phase_artifacts_run_node ON phase_artifacts(workflow_run_id, run_node_id);

CREATE TABLE IF NOT EXISTS run_join_barriers (
	id TEXT PRIMARY KEY,
	workflow_run_id TEXT NOT NULL,
	spawner_run_node_id TEXT NOT NULL,
	join_run_node_id TEXT NOT NULL,
	spawn_source_artifact_id TEXT NOT NULL UNIQUE,
	expected_children INTEGER NOT NULL,
	terminal_children INTEGER NOT NULL DEFAULT 0,
	completed_children INTEGER NOT NULL DEFAULT 0,
	failed_children INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	FOREIGN KEY (workflow_run_id) REFERENCES workflow_runs(id)
);
CREATE INDEX IF NOT EXISTS idx_barriers_run ON run_join_barriers(workflow_run_id);
`

// Open opens or creates a SQLite-backed store at path, enabling WAL mode and
// foreign keys, and applying the schema idempotently.
//
// The DSN carries _txlock=immediate: the mattn/go-sqlite3 driver picks its
// BEGIN mode from this DSN parameter, not from sql.TxOptions, so every
// connection in the pool opens write transactions with BEGIN IMMEDIATE.
// busy_timeout gives a losing writer a bounded wait for the lock instead of
// an immediate SQLITE_BUSY.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("opened sqlite store")
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		log.Warn().Err(err).Msg("error closing sqlite store")
	} else {
		log.Debug().Msg("closed sqlite store")
	}
	return err
}

// Tx is a single serialisable transaction. The store's DSN (_txlock=immediate)
// makes every BeginTx a BEGIN IMMEDIATE, acquiring the reserved write lock up
// front rather than on first write -- two concurrent writers contend for the
// lock at BEGIN instead of racing their optimistic-concurrency precondition
// reads, so the loser blocks for busy_timeout and then fails cleanly, not on
// a write made after it already observed a stale precondition.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside one transaction, committing on success and rolling
// back on error or panic. No suspension point inside fn may perform network
// I/O (§5) -- callers assemble context and persist results, never invoke a
// provider, while a Tx is open.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
