package adapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteMemory is an offline memory backend. Relevance is FTS5 bm25 rather
// than embedding similarity, so it is ready as soon as the database opens.
type SQLiteMemory struct {
	db    *sql.DB
	ready readiness
}

// NewSQLiteMemory opens or creates the database at dbPath
func NewSQLiteMemory(ctx context.Context, dbPath string) (*SQLiteMemory, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create memory db dir", goerr.V("path", dbPath))
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open memory db", goerr.V("path", dbPath))
	}
	db.SetMaxOpenConns(1)

	m := &SQLiteMemory{db: db}
	if err := m.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	m.ready.set(ctx, true)
	return m, nil
}

func (m *SQLiteMemory) Close() error {
	return m.db.Close()
}

func (m *SQLiteMemory) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_records (
			namespace  TEXT NOT NULL,
			id         TEXT NOT NULL,
			text       TEXT NOT NULL,
			context    TEXT NOT NULL DEFAULT '{}',
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, id)
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_records_fts USING fts5(
			text,
			content=memory_records,
			content_rowid=rowid
		)`,
		`CREATE TRIGGER IF NOT EXISTS memory_records_ai AFTER INSERT ON memory_records BEGIN
			INSERT INTO memory_records_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memory_records_ad AFTER DELETE ON memory_records BEGIN
			INSERT INTO memory_records_fts(memory_records_fts, rowid, text) VALUES('delete', old.rowid, old.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memory_records_au AFTER UPDATE ON memory_records BEGIN
			INSERT INTO memory_records_fts(memory_records_fts, rowid, text) VALUES('delete', old.rowid, old.text);
			INSERT INTO memory_records_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return goerr.Wrap(err, "failed to migrate memory db")
		}
	}
	return nil
}

func (m *SQLiteMemory) IndexMemory(ctx context.Context, record *model.MemoryRecord) (bool, error) {
	ns := record.Namespace
	if ns == "" {
		ns = model.NamespaceMemories
	}
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctxData := record.Context
	if ctxData == nil {
		ctxData = map[string]any{}
	}
	raw, err := json.Marshal(ctxData)
	if err != nil {
		return false, goerr.Wrap(err, "failed to marshal memory context", goerr.V("id", id))
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO memory_records (namespace, id, text, context, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, id) DO UPDATE SET
			text = excluded.text,
			context = excluded.context,
			updated_at = excluded.updated_at`,
		ns, id, record.Text, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, goerr.Wrap(err, "failed to index memory", goerr.V("id", id), goerr.V("namespace", ns))
	}
	return true, nil
}

var ftsTokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// ftsQuery turns free text into an OR of quoted terms so FTS5 syntax
// characters in user input are never interpreted.
func ftsQuery(query string) string {
	tokens := ftsTokenPattern.FindAllString(strings.ToLower(query), -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

func (m *SQLiteMemory) GetRelevantMemories(ctx context.Context, query string, k int, namespaces ...string) ([]*model.MemoryHit, error) {
	if len(namespaces) == 0 {
		namespaces = []string{model.NamespaceMemories}
	}
	if k <= 0 {
		return []*model.MemoryHit{}, nil
	}
	match := ftsQuery(query)
	if match == "" {
		return []*model.MemoryHit{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(namespaces)), ",")
	args := []any{match}
	for _, ns := range namespaces {
		args = append(args, ns)
	}
	args = append(args, k)

	rows, err := m.db.QueryContext(ctx, `
		SELECT r.id, r.namespace, r.text, r.context, bm25(memory_records_fts) AS rank
		FROM memory_records_fts
		JOIN memory_records r ON r.rowid = memory_records_fts.rowid
		WHERE memory_records_fts MATCH ? AND r.namespace IN (`+placeholders+`)
		ORDER BY rank
		LIMIT ?`, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search memories", goerr.V("query", query))
	}
	defer rows.Close()

	hits := []*model.MemoryHit{}
	for rows.Next() {
		var (
			hit  model.MemoryHit
			raw  string
			rank float64
		)
		if err := rows.Scan(&hit.ID, &hit.Namespace, &hit.Text, &raw, &rank); err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory row")
		}
		if err := json.Unmarshal([]byte(raw), &hit.Context); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal memory context", goerr.V("id", hit.ID))
		}
		// bm25 is lower-is-better and negative for matches
		hit.Relevance = -rank
		hits = append(hits, &hit)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate memory rows")
	}
	return hits, nil
}

func (m *SQLiteMemory) GetRelevantToolDescriptions(ctx context.Context, query string, k int) ([]*model.ToolDescriptor, error) {
	hits, err := m.GetRelevantMemories(ctx, query, k, model.NamespaceTools)
	if err != nil {
		return nil, err
	}
	return ToolDescriptorsFromHits(hits)
}

func (m *SQLiteMemory) ClearNamespace(ctx context.Context, namespace string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM memory_records WHERE namespace = ?`, namespace); err != nil {
		return goerr.Wrap(err, "failed to clear namespace", goerr.V("namespace", namespace))
	}
	return nil
}

// Reset drops every record
func (m *SQLiteMemory) Reset(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM memory_records`); err != nil {
		return goerr.Wrap(err, "failed to reset memory db")
	}
	return nil
}

func (m *SQLiteMemory) ListIDs(ctx context.Context, namespace string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id FROM memory_records WHERE namespace = ? ORDER BY id`, namespace)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memory ids", goerr.V("namespace", namespace))
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate memory ids")
	}
	return ids, nil
}

func (m *SQLiteMemory) AddInitializationListener(fn func(ctx context.Context)) {
	m.ready.add(fn)
}

func (m *SQLiteMemory) Status(ctx context.Context) (*model.MemoryStatus, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT namespace, COUNT(*) FROM memory_records GROUP BY namespace ORDER BY namespace`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to count memory records")
	}
	defer rows.Close()

	status := &model.MemoryStatus{
		Backend:        "sqlite",
		Ready:          m.ready.isReady(),
		Model:          "fts5",
		Namespaces:     []string{},
		DocumentCounts: map[string]int{},
	}
	for rows.Next() {
		var (
			ns    string
			count int
		)
		if err := rows.Scan(&ns, &count); err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory count")
		}
		status.Namespaces = append(status.Namespaces, ns)
		status.DocumentCounts[ns] = count
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate memory counts")
	}
	return status, nil
}
