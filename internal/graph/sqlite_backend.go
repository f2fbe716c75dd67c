package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	// DriverNcruces is github.com/ncruces/go-sqlite3 (SQLite compiled to Wasm).
	DriverNcruces = "sqlite3"
	// DriverModernc is modernc.org/sqlite (SQLite transpiled to Go).
	DriverModernc = "sqlite"
)

// SQLiteBackend provides a SQLite implementation of Backend.
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	driver string
	logger *slog.Logger
}

// SQLiteBackendOptions configures the SQLite backend.
type SQLiteBackendOptions struct {
	// Path to the SQLite database file.
	// If empty, uses a private in-memory database.
	Path string

	// Driver is DriverNcruces (default) or DriverModernc.
	Driver string

	// CreateIfNotExists creates the database directory if it doesn't exist.
	CreateIfNotExists bool

	// BusyTimeout bounds how long a writer waits on a locked database.
	// Defaults to 5s.
	BusyTimeout time.Duration

	Logger *slog.Logger
}

// NewSQLiteBackend opens the database and applies pending migrations.
func NewSQLiteBackend(ctx context.Context, opts SQLiteBackendOptions) (*SQLiteBackend, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverNcruces
	}
	if driver != DriverNcruces && driver != DriverModernc {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pragmas := fmt.Sprintf("_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", busy.Milliseconds())
	var dsn string
	if opts.Path == "" {
		dsn = "file::memory:?" + pragmas
	} else {
		if opts.CreateIfNotExists {
			dir := filepath.Dir(opts.Path)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = "file:" + opts.Path + "?_pragma=journal_mode(WAL)&" + pragmas
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to file::memory: is a separate database, so keep
	// exactly one alive for the lifetime of the pool.
	if opts.Path == "" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	backend := &SQLiteBackend{
		db:     db,
		path:   opts.Path,
		driver: driver,
		logger: logger.With("component", "graph.sqlite", "driver", driver),
	}

	if err := backend.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return backend, nil
}

// DB returns the underlying database connection.
func (b *SQLiteBackend) DB() *sql.DB {
	return b.db
}

// Path returns the database file path, empty for in-memory databases.
func (b *SQLiteBackend) Path() string {
	return b.path
}

// Driver returns the database/sql driver name in use.
func (b *SQLiteBackend) Driver() string {
	return b.driver
}

const nodeColumns = "id, node_type, properties, created_at, updated_at"
const edgeColumns = "id, edge_type, from_node_id, to_node_id, properties, created_at"

// CreateNode inserts a new node.
func (b *SQLiteBackend) CreateNode(ctx context.Context, node *Node) error {
	fillNodeDefaults(node)
	props, err := node.Properties.Encode()
	if err != nil {
		return &ErrBackend{Op: "encode node properties", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?)`,
		node.ID.String(), node.Type, string(props),
		formatTime(node.CreatedAt), formatTime(node.UpdatedAt),
	)
	if err != nil {
		if constraintOf(err) == constraintUnique {
			return &ErrAlreadyExists{Entity: "node", ID: node.ID.String()}
		}
		return &ErrBackend{Op: "insert node", Err: err}
	}
	return nil
}

// GetNode retrieves a node by ID.
func (b *SQLiteBackend) GetNode(ctx context.Context, id uuid.UUID) (*Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	row := b.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id.String())
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nodeNotFound(id)
	}
	if err != nil {
		return nil, &ErrBackend{Op: "get node", Err: err}
	}
	return node, nil
}

// UpdateNode replaces the type and properties of an existing node.
func (b *SQLiteBackend) UpdateNode(ctx context.Context, node *Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var created string
	err := b.db.QueryRowContext(ctx,
		`SELECT created_at FROM nodes WHERE id = ?`, node.ID.String()).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return nodeNotFound(node.ID)
	}
	if err != nil {
		return &ErrBackend{Op: "update node", Err: err}
	}
	createdAt, err := parseTime(created)
	if err != nil {
		return &ErrBackend{Op: "parse created_at", Err: err}
	}
	if err := prepareUpdate(node, createdAt); err != nil {
		return err
	}

	props, err := node.Properties.Encode()
	if err != nil {
		return &ErrBackend{Op: "encode node properties", Err: err}
	}

	result, err := b.db.ExecContext(ctx,
		`UPDATE nodes SET node_type = ?, properties = ?, updated_at = ? WHERE id = ?`,
		node.Type, string(props), formatTime(node.UpdatedAt), node.ID.String(),
	)
	if err != nil {
		return &ErrBackend{Op: "update node", Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nodeNotFound(node.ID)
	}
	return nil
}

// DeleteNode removes a node; foreign keys cascade to its edges.
func (b *SQLiteBackend) DeleteNode(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	result, err := b.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id.String())
	if err != nil {
		return &ErrBackend{Op: "delete node", Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nodeNotFound(id)
	}
	return nil
}

// CreateEdge inserts a new edge between two existing nodes.
func (b *SQLiteBackend) CreateEdge(ctx context.Context, edge *Edge) error {
	fillEdgeDefaults(edge)
	props, err := edge.Properties.Encode()
	if err != nil {
		return &ErrBackend{Op: "encode edge properties", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO edges (`+edgeColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		edge.ID.String(), edge.Type, edge.From.String(), edge.To.String(),
		string(props), formatTime(edge.CreatedAt),
	)
	if err == nil {
		return nil
	}

	switch constraintOf(err) {
	case constraintUnique:
		return &ErrAlreadyExists{Entity: "edge", ID: edge.ID.String()}
	case constraintForeignKey:
		for _, endpoint := range []uuid.UUID{edge.From, edge.To} {
			ok, existsErr := b.nodeExists(ctx, endpoint)
			if existsErr != nil {
				return &ErrBackend{Op: "insert edge", Err: existsErr}
			}
			if !ok {
				return nodeNotFound(endpoint)
			}
		}
	}
	return &ErrBackend{Op: "insert edge", Err: err}
}

func (b *SQLiteBackend) nodeExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := b.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM nodes WHERE id = ?)`, id.String()).Scan(&exists)
	return exists, err
}

// GetEdge retrieves an edge by ID.
func (b *SQLiteBackend) GetEdge(ctx context.Context, id uuid.UUID) (*Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	row := b.db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id.String())
	edge, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, edgeNotFound(id)
	}
	if err != nil {
		return nil, &ErrBackend{Op: "get edge", Err: err}
	}
	return edge, nil
}

// DeleteEdge removes an edge by ID.
func (b *SQLiteBackend) DeleteEdge(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	result, err := b.db.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id.String())
	if err != nil {
		return &ErrBackend{Op: "delete edge", Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return edgeNotFound(id)
	}
	return nil
}

// GetEdgesFrom lists edges leaving nodeID, newest first.
func (b *SQLiteBackend) GetEdgesFrom(ctx context.Context, nodeID uuid.UUID, edgeType string) ([]*Edge, error) {
	return b.listEdges(ctx, "from_node_id", nodeID, edgeType)
}

// GetEdgesTo lists edges arriving at nodeID, newest first.
func (b *SQLiteBackend) GetEdgesTo(ctx context.Context, nodeID uuid.UUID, edgeType string) ([]*Edge, error) {
	return b.listEdges(ctx, "to_node_id", nodeID, edgeType)
}

// listEdges queries by one endpoint column; column is never user input.
func (b *SQLiteBackend) listEdges(ctx context.Context, column string, nodeID uuid.UUID, edgeType string) ([]*Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	query := `SELECT ` + edgeColumns + ` FROM edges WHERE ` + column + ` = ?`
	args := []any{nodeID.String()}
	if edgeType != "" {
		query += ` AND edge_type = ?`
		args = append(args, edgeType)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ErrBackend{Op: "list edges", Err: err}
	}
	defer rows.Close()

	edges := make([]*Edge, 0)
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, &ErrBackend{Op: "scan edge", Err: err}
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, &ErrBackend{Op: "list edges", Err: err}
	}
	return edges, nil
}

// GetNeighbors returns the nodes at the other end of nodeID's edges.
func (b *SQLiteBackend) GetNeighbors(ctx context.Context, nodeID uuid.UUID, edgeType string, dir Direction) ([]*Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	neighbors := make([]*Node, 0)
	if dir == Outgoing || dir == Both {
		out, err := b.queryNeighbors(ctx, "to_node_id", "from_node_id", nodeID, edgeType, false)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, out...)
	}
	if dir == Incoming || dir == Both {
		// A self-loop was already counted as outgoing.
		in, err := b.queryNeighbors(ctx, "from_node_id", "to_node_id", nodeID, edgeType, dir == Both)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, in...)
	}
	return neighbors, nil
}

func (b *SQLiteBackend) queryNeighbors(ctx context.Context, joinCol, matchCol string, nodeID uuid.UUID, edgeType string, skipSelfLoops bool) ([]*Node, error) {
	query := `SELECT n.id, n.node_type, n.properties, n.created_at, n.updated_at
		FROM edges e JOIN nodes n ON n.id = e.` + joinCol + `
		WHERE e.` + matchCol + ` = ?`
	args := []any{nodeID.String()}
	if edgeType != "" {
		query += ` AND e.edge_type = ?`
		args = append(args, edgeType)
	}
	if skipSelfLoops {
		query += ` AND e.from_node_id <> e.to_node_id`
	}
	query += ` ORDER BY e.created_at DESC, e.id DESC`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ErrBackend{Op: "get neighbors", Err: err}
	}
	defer rows.Close()
	return scanNodeRows(rows)
}

// Search filters, sorts and paginates nodes. Every user-supplied value is
// bound as a parameter.
func (b *SQLiteBackend) Search(ctx context.Context, q SearchQuery) (*SearchResults[*Node], error) {
	q = q.normalized()
	where, args := buildSearchWhere(q)

	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`+where, args...).Scan(&total); err != nil {
		return nil, &ErrBackend{Op: "count nodes", Err: err}
	}

	query := `SELECT ` + nodeColumns + ` FROM nodes` + where + searchOrder(q) + ` LIMIT ? OFFSET ?`
	rows, err := b.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, &ErrBackend{Op: "search nodes", Err: err}
	}
	defer rows.Close()

	nodes, err := scanNodeRows(rows)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("search nodes",
		"types", q.NodeTypes,
		"text", q.Text != "",
		"filters", len(q.PropertyFilters),
		"total", total,
		"returned", len(nodes),
	)
	return newSearchResults(nodes, total, q), nil
}

// CountNodes counts nodes matching the query filters.
func (b *SQLiteBackend) CountNodes(ctx context.Context, q SearchQuery) (int, error) {
	where, args := buildSearchWhere(q)

	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`+where, args...).Scan(&total); err != nil {
		return 0, &ErrBackend{Op: "count nodes", Err: err}
	}
	return total, nil
}

// propertyTextSQL renders the tagged value v (a json_each row) in the text
// form of Value.Text. Reals, lists and maps yield NULL: SQLite prints reals
// with 15 significant digits, so they are compared numerically instead (see
// floatFilterArg).
const propertyTextSQL = `CASE v.type
	WHEN 'text' THEN v.value
	WHEN 'integer' THEN CAST(v.value AS TEXT)
	WHEN 'true' THEN 'true'
	WHEN 'false' THEN 'false'
	WHEN 'null' THEN 'null'
END`

// floatFilterArg returns the float a filter text stands for when it is the
// canonical text of that float, and nil otherwise. A nil argument never
// matches in SQL.
func floatFilterArg(want string) any {
	f, err := strconv.ParseFloat(want, 64)
	if err != nil {
		return nil
	}
	if text, ok := Float(f).Text(); !ok || text != want {
		return nil
	}
	return f
}

func buildSearchWhere(q SearchQuery) (string, []any) {
	var conds []string
	var args []any

	if len(q.NodeTypes) > 0 {
		conds = append(conds, "node_type IN (?"+strings.Repeat(",?", len(q.NodeTypes)-1)+")")
		for _, t := range q.NodeTypes {
			args = append(args, t)
		}
	}
	if q.Text != "" {
		conds = append(conds, `LOWER(properties) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(asciiLower(q.Text))+"%")
	}
	if !q.CreatedAfter.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(q.CreatedAfter))
	}
	if !q.CreatedBefore.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(q.CreatedBefore))
	}
	if !q.UpdatedAfter.IsZero() {
		conds = append(conds, "updated_at >= ?")
		args = append(args, formatTime(q.UpdatedAfter))
	}
	if !q.UpdatedBefore.IsZero() {
		conds = append(conds, "updated_at <= ?")
		args = append(args, formatTime(q.UpdatedBefore))
	}
	for _, key := range newNodeMatcher(q).keys {
		conds = append(conds, `EXISTS (SELECT 1 FROM json_each(nodes.properties) AS p, json_each(p.value) AS v
			WHERE p.key = ? AND (`+propertyTextSQL+` = ? OR (v.type = 'real' AND v.value = ?)))`)
		want := q.PropertyFilters[key]
		args = append(args, key, want, floatFilterArg(want))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func searchOrder(q SearchQuery) string {
	column := "updated_at"
	if q.OrderBy == OrderByCreatedAt {
		column = "created_at"
	}
	dir := "DESC"
	if q.Direction == Asc {
		dir = "ASC"
	}
	return " ORDER BY " + column + " " + dir + ", id " + dir
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Stats returns node and edge counts by type.
func (b *SQLiteBackend) Stats(ctx context.Context) (*Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := &Stats{
		NodesByType: make(map[string]int64),
		EdgesByType: make(map[string]int64),
	}
	if err := b.countByType(ctx, `SELECT node_type, COUNT(*) FROM nodes GROUP BY node_type`, stats.NodesByType, &stats.NodeCount); err != nil {
		return nil, err
	}
	if err := b.countByType(ctx, `SELECT edge_type, COUNT(*) FROM edges GROUP BY edge_type`, stats.EdgesByType, &stats.EdgeCount); err != nil {
		return nil, err
	}
	return stats, nil
}

func (b *SQLiteBackend) countByType(ctx context.Context, query string, into map[string]int64, total *int64) error {
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return &ErrBackend{Op: "stats", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var count int64
		if err := rows.Scan(&typ, &count); err != nil {
			return &ErrBackend{Op: "stats", Err: err}
		}
		into[typ] = count
		*total += count
	}
	if err := rows.Err(); err != nil {
		return &ErrBackend{Op: "stats", Err: err}
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var id, nodeType, props, created, updated string
	if err := row.Scan(&id, &nodeType, &props, &created, &updated); err != nil {
		return nil, err
	}

	node := &Node{Type: nodeType}
	var err error
	if node.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse node id %q: %w", id, err)
	}
	if node.Properties, err = DecodeProperties([]byte(props)); err != nil {
		return nil, fmt.Errorf("decode node properties: %w", err)
	}
	if node.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if node.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return node, nil
}

func scanNodeRows(rows *sql.Rows) ([]*Node, error) {
	nodes := make([]*Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, &ErrBackend{Op: "scan node", Err: err}
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, &ErrBackend{Op: "scan nodes", Err: err}
	}
	return nodes, nil
}

func scanEdge(row rowScanner) (*Edge, error) {
	var id, edgeType, from, to, props, created string
	if err := row.Scan(&id, &edgeType, &from, &to, &props, &created); err != nil {
		return nil, err
	}

	edge := &Edge{Type: edgeType}
	var err error
	if edge.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse edge id %q: %w", id, err)
	}
	if edge.From, err = uuid.Parse(from); err != nil {
		return nil, fmt.Errorf("parse from_node_id %q: %w", from, err)
	}
	if edge.To, err = uuid.Parse(to); err != nil {
		return nil, fmt.Errorf("parse to_node_id %q: %w", to, err)
	}
	if edge.Properties, err = DecodeProperties([]byte(props)); err != nil {
		return nil, fmt.Errorf("decode edge properties: %w", err)
	}
	if edge.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return edge, nil
}

var _ Backend = (*SQLiteBackend)(nil)
