package historian

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/awcullen/opcua/ua"
	_ "github.com/glebarez/go-sqlite"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	node        TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	value       TEXT    NOT NULL,
	status      INTEGER NOT NULL,
	source_ts   INTEGER NOT NULL,
	server_ts   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS history_node_ts ON history (node, source_ts);
`

// SQLiteStore keeps the values in a sqlite database so they survive a restart.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	// a single connection so ":memory:" databases are shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating history schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, key string, value ua.DataValue) error {
	kind, raw, err := encodeVariant(value.Value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history (node, kind, value, status, source_ts, server_ts) VALUES (?, ?, ?, ?, ?, ?)`,
		key, kind, raw, int64(value.StatusCode), value.SourceTimestamp.UnixNano(), value.ServerTimestamp.UnixNano())
	return errors.Wrap(err, "inserting history value")
}

func (s *SQLiteStore) Range(ctx context.Context, key string, start, end time.Time, max int) ([]ua.DataValue, error) {
	limit := -1
	if max > 0 {
		limit = max
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, value, status, source_ts, server_ts FROM history
		 WHERE node = ? AND source_ts >= ? AND source_ts <= ?
		 ORDER BY source_ts, id LIMIT ?`,
		key, start.UnixNano(), end.UnixNano(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying history")
	}
	defer rows.Close()

	res := []ua.DataValue{}
	for rows.Next() {
		var (
			kind, raw       string
			status          int64
			sourceTS, srvTS int64
		)
		if err := rows.Scan(&kind, &raw, &status, &sourceTS, &srvTS); err != nil {
			return nil, errors.Wrap(err, "scanning history row")
		}
		v, err := decodeVariant(kind, raw)
		if err != nil {
			return nil, err
		}
		res = append(res, ua.NewDataValue(v, ua.StatusCode(status), time.Unix(0, sourceTS).UTC(), 0, time.Unix(0, srvTS).UTC(), 0))
	}
	return res, errors.Wrap(rows.Err(), "reading history rows")
}

func (s *SQLiteStore) Trim(ctx context.Context, key string, count int, before time.Time) error {
	if count > 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM history WHERE node = ? AND id NOT IN (
				SELECT id FROM history WHERE node = ? ORDER BY source_ts DESC, id DESC LIMIT ?)`,
			key, key, count)
		if err != nil {
			return errors.Wrap(err, "trimming history by count")
		}
	}
	if !before.IsZero() {
		_, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE node = ? AND source_ts < ?`, key, before.UnixNano())
		if err != nil {
			return errors.Wrap(err, "trimming history by age")
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Variants are stored as JSON tagged with their Go type.
func encodeVariant(v ua.Variant) (string, string, error) {
	var kind string
	switch v.(type) {
	case nil:
		kind = "null"
	case bool:
		kind = "bool"
	case int32:
		kind = "int32"
	case int64:
		kind = "int64"
	case uint32:
		kind = "uint32"
	case float32:
		kind = "float"
	case float64:
		kind = "double"
	case string:
		kind = "string"
	case []float64:
		kind = "double[]"
	case []string:
		kind = "string[]"
	default:
		return "", "", errors.Errorf("unsupported history value type %T", v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", "", errors.Wrap(err, "encoding history value")
	}
	return kind, string(raw), nil
}

func decodeVariant(kind, raw string) (ua.Variant, error) {
	var err error
	switch kind {
	case "null":
		return nil, nil
	case "bool":
		var v bool
		err = json.Unmarshal([]byte(raw), &v)
		return v, err
	case "int32":
		var v int32
		err = json.Unmarshal([]byte(raw), &v)
		return v, err
	case "int64":
		var v int64
		err = json.Unmarshal([]byte(raw), &v)
		return v, err
	case "uint32":
		var v uint32
		err = json.Unmarshal([]byte(raw), &v)
		return v, err
	case "float":
		var v float32
		err = json.Unmarshal([]byte(raw), &v)
		return v, err
	case "double":
		var v float64
		err = json.Unmarshal([]byte(raw), &v)
		return v, err
	case "string":
		var v string
		err = json.Unmarshal([]byte(raw), &v)
		return v, err
	case "double[]":
		var v []float64
		err = json.Unmarshal([]byte(raw), &v)
		return v, err
	case "string[]":
		var v []string
		err = json.Unmarshal([]byte(raw), &v)
		return v, err
	}
	return nil, errors.Errorf("unknown history value kind %q", kind)
}

// Open returns the store named by kind: "memory" or "sqlite".
func Open(kind, path string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(path)
	}
	return nil, errors.Errorf("unknown history store %q", kind)
}
