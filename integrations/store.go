// Package integrations stores per-integration settings (fax, SMS, lab
// feeds) in the integration_config table. Secret values are kept encrypted.
package integrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextscript/emr-tools/cryptoutil"
	"github.com/nextscript/emr-tools/logging"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS integration_config (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  integration_name TEXT NOT NULL,
  config_key TEXT NOT NULL,
  config_value TEXT,
  encrypted BOOLEAN NOT NULL DEFAULT 0,
  enabled BOOLEAN NOT NULL DEFAULT 1,
  updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(integration_name, config_key)
);`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS integration_config (
  id SERIAL PRIMARY KEY,
  integration_name VARCHAR(50) NOT NULL,
  config_key VARCHAR(100) NOT NULL,
  config_value TEXT,
  encrypted BOOLEAN NOT NULL DEFAULT FALSE,
  enabled BOOLEAN NOT NULL DEFAULT TRUE,
  updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(integration_name, config_key)
);`

// Store reads and writes integration settings
type Store struct {
	db     *sql.DB
	driver string
	cipher *cryptoutil.Cipher
}

// Open connects to the settings database and creates the table if needed.
// driver is "sqlite" (dsn is a file path) or "pgx" (dsn is a Postgres URL).
func Open(ctx context.Context, driver, dsn string, cipher *cryptoutil.Cipher) (*Store, error) {
	if cipher == nil {
		return nil, errors.New("integrations: cipher is required")
	}

	var schema string
	switch driver {
	case DriverSQLite:
		schema = sqliteSchema
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	case DriverPostgres:
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("integrations: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// One writer at a time, and :memory: is per connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to integration database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create integration_config table: %w", err)
	}

	return &Store{db: db, driver: driver, cipher: cipher}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind turns ? placeholders into $n for Postgres
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Load returns the enabled settings of an integration with secrets
// decrypted. An unknown integration yields an empty map.
func (s *Store) Load(ctx context.Context, name string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT config_key, config_value, encrypted
FROM integration_config
WHERE integration_name = ? AND enabled = ?`), name, true)
	if err != nil {
		return nil, fmt.Errorf("load %s settings: %w", name, err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var (
			key       string
			value     sql.NullString
			encrypted bool
		)
		if err := rows.Scan(&key, &value, &encrypted); err != nil {
			return nil, err
		}
		if encrypted {
			settings[key] = s.cipher.DecryptOrPlain(value.String)
		} else {
			settings[key] = value.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logging.Debug("Loaded integration settings", "integration", name, "keys", len(settings))
	return settings, nil
}

// Set inserts or replaces one setting. With encrypt the value is stored as
// an encrypted token.
func (s *Store) Set(ctx context.Context, name, key, value string, encrypt bool) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(key) == "" {
		return errors.New("integration name and key are required")
	}

	stored := value
	if encrypt {
		token, err := s.cipher.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypt %s.%s: %w", name, key, err)
		}
		stored = token
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO integration_config (integration_name, config_key, config_value, encrypted, enabled)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(integration_name, config_key) DO UPDATE SET
  config_value = excluded.config_value,
  encrypted = excluded.encrypted,
  enabled = excluded.enabled,
  updated_at = CURRENT_TIMESTAMP`), name, key, stored, encrypt, true)
	if err != nil {
		return fmt.Errorf("save %s.%s: %w", name, key, err)
	}
	return nil
}

// Disable hides one setting from Load without deleting it
func (s *Store) Disable(ctx context.Context, name, key string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE integration_config SET enabled = ?, updated_at = CURRENT_TIMESTAMP
WHERE integration_name = ? AND config_key = ?`), false, name, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("setting %s.%s not found", name, key)
	}
	return nil
}

// Delete removes every setting of an integration
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM integration_config WHERE integration_name = ?`), name)
	return err
}

// Enabled reports whether loaded settings switch the integration on
func Enabled(settings map[string]string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(settings["enabled"]))
	return err == nil && v
}
