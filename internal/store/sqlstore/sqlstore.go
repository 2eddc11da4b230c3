// Package sqlstore implements the store interfaces on database/sql.
// One implementation serves both drivers: the embedded pure-Go sqlite
// driver for single-node deployments and postgres for managed mode.
// Queries are written with ? placeholders and rebound to $N for postgres.
package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/store/migrations"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB wraps the shared handle with the active driver name.
type DB struct {
	db     *sql.DB
	driver string
}

func (d *DB) pg() bool { return d.driver == DriverPostgres }

// q rewrites ? placeholders to $N for postgres.
func (d *DB) q(query string) string {
	if !d.pg() {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Open opens the database for the given driver, runs pending migrations,
// and assembles the store container. For sqlite the dsn is the database
// file path (already home-expanded); for postgres it is a connection DSN.
func Open(driver, dsn string) (*store.Stores, error) {
	var db *sql.DB
	var err error

	switch driver {
	case DriverSQLite:
		if err = os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// Serialize all access through one connection so concurrent
		// writers never hit SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err = db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("set pragma: %w", err)
			}
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}

	if err := migrations.Up(db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	d := &DB{db: db, driver: driver}
	return &store.Stores{
		Users:       &userStore{d},
		Sessions:    &sessionStore{d},
		Messages:    &messageStore{d},
		Memory:      &memoryStore{d},
		Scheduler:   &schedulerStore{d},
		Tasks:       &taskStore{d},
		Events:      &eventStore{d},
		Keys:        &keyStore{d},
		Delegations: &delegationStore{d},
		CloseFunc:   db.Close,
	}, nil
}

// jsonArg binds raw JSON as a nullable text parameter.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// jsonOr binds raw JSON, substituting fallback for empty input.
func jsonOr(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	return string(raw)
}

func rawOf(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
