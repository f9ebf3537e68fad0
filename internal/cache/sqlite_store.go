package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	bucket      TEXT NOT NULL,
	request_key TEXT NOT NULL,
	status      INTEGER NOT NULL,
	header      TEXT NOT NULL,
	body        BLOB,
	stored_at   INTEGER NOT NULL,
	PRIMARY KEY (bucket, request_key)
);`

// NewSQLiteStorage 在 basePath/cachegate.db 上创建单文件存储，适合需要事务化回收的部署。
func NewSQLiteStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create storage path: %v", ErrStorageUnavailable, err)
	}

	dsn := "file:" + filepath.Join(basePath, "cachegate.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrStorageUnavailable, err)
	}
	// 单连接串行化写入，避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate sqlite: %v", ErrStorageUnavailable, err)
	}
	return &sqliteStorage{db: db, now: time.Now}, nil
}

type sqliteStorage struct {
	db  *sqlx.DB
	now func() time.Time
}

type sqliteEntry struct {
	Status   int    `db:"status"`
	Header   string `db:"header"`
	Body     []byte `db:"body"`
	StoredAt int64  `db:"stored_at"`
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := validateBucketName(name); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)`,
		name, s.now().UTC().Unix())
	if err != nil {
		return nil, unavailable("open bucket "+name, err)
	}
	return &sqliteBucket{storage: s, name: name}, nil
}

func (s *sqliteStorage) Names(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, `SELECT name FROM buckets ORDER BY name`); err != nil {
		return nil, unavailable("list buckets", err)
	}
	return names, nil
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, unavailable("delete bucket "+name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE bucket = ?`, name); err != nil {
		return false, unavailable("delete bucket "+name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, name)
	if err != nil {
		return false, unavailable("delete bucket "+name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, unavailable("delete bucket "+name, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

type sqliteBucket struct {
	storage *sqliteStorage
	name    string
}

func (b *sqliteBucket) Name() string {
	return b.name
}

func (b *sqliteBucket) Match(ctx context.Context, req Request) (*Response, error) {
	var row sqliteEntry
	err := b.storage.db.GetContext(ctx, &row,
		`SELECT status, header, body, stored_at FROM entries WHERE bucket = ? AND request_key = ?`,
		b.name, req.Key())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read entry", err)
	}
	header := http.Header{}
	if row.Header != "" {
		if err := json.Unmarshal([]byte(row.Header), &header); err != nil {
			return nil, unavailable("decode header", err)
		}
	}
	return &Response{
		Status:   row.Status,
		Header:   header,
		Body:     row.Body,
		StoredAt: time.Unix(row.StoredAt, 0).UTC(),
	}, nil
}

func (b *sqliteBucket) Put(ctx context.Context, req Request, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return err
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = b.storage.now()
	}
	// 仅当 bucket 仍登记在册时写入，被回收的旧代际不会复活。
	res, err := b.storage.db.ExecContext(ctx, `
INSERT INTO entries (bucket, request_key, status, header, body, stored_at)
SELECT ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM buckets WHERE name = ?)
ON CONFLICT (bucket, request_key) DO UPDATE SET
	status = excluded.status,
	header = excluded.header,
	body = excluded.body,
	stored_at = excluded.stored_at`,
		b.name, req.Key(), resp.Status, string(header), resp.Body, storedAt.UTC().Unix(), b.name)
	if err != nil {
		return unavailable("write entry", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return unavailable("write entry", fmt.Errorf("bucket %s deleted", b.name))
	}
	return nil
}

func (b *sqliteBucket) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := b.storage.db.SelectContext(ctx, &keys,
		`SELECT request_key FROM entries WHERE bucket = ? ORDER BY request_key`, b.name)
	if err != nil {
		return nil, unavailable("list entries", err)
	}
	return keys, nil
}
