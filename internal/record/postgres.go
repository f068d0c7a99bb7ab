package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicate is returned by [PostgresSink.Save] when a record for the same
// call and schema was already stored.
var ErrDuplicate = errors.New("record: duplicate call")

// DB is the database interface used by [PostgresSink]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink stores records in PostgreSQL. Fields and flags are kept as
// JSONB so a form change never needs a migration.
type PostgresSink struct {
	db DB
}

var (
	_ Sink   = (*PostgresSink)(nil)
	_ Pinger = (*PostgresSink)(nil)
)

// NewPostgresSink creates a sink on db. The intake_records table must exist;
// see [Migrate].
func NewPostgresSink(db DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// OpenPool connects to dsn and verifies the connection.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("record: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("record: ping: %w", err)
	}
	return pool, nil
}

// Name implements [Sink].
func (s *PostgresSink) Name() string { return "postgres" }

// Save implements [Sink]. A second record for the same call and schema is
// rejected with [ErrDuplicate].
func (s *PostgresSink) Save(ctx context.Context, rec Record) error {
	fieldsJSON, err := sonic.Marshal(nonNilMap(rec.Fields))
	if err != nil {
		return fmt.Errorf("record: marshal fields: %w", err)
	}
	flagsJSON, err := sonic.Marshal(nonNilSlice(rec.Flags))
	if err != nil {
		return fmt.Errorf("record: marshal flags: %w", err)
	}

	const query = `
		INSERT INTO intake_records (id, call_id, schema_name, fields, flags, caller, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (call_id, schema_name) DO NOTHING`

	tag, err := s.db.Exec(ctx, query,
		rec.ID, rec.CallID, rec.Schema, fieldsJSON, flagsJSON, rec.Caller, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record: insert %s: %w", rec.CallID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.CallID)
	}
	return nil
}

// Get loads the record stored for callID under schema.
func (s *PostgresSink) Get(ctx context.Context, callID, schema string) (*Record, error) {
	const query = `
		SELECT id, call_id, schema_name, fields, flags, caller, completed_at
		FROM intake_records
		WHERE call_id = $1 AND schema_name = $2`

	var (
		rec                   Record
		fieldsJSON, flagsJSON []byte
	)
	err := s.db.QueryRow(ctx, query, callID, schema).Scan(
		&rec.ID, &rec.CallID, &rec.Schema, &fieldsJSON, &flagsJSON, &rec.Caller, &rec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("record: get %s: %w", callID, err)
	}
	if err := sonic.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, fmt.Errorf("record: unmarshal fields: %w", err)
	}
	if err := sonic.Unmarshal(flagsJSON, &rec.Flags); err != nil {
		return nil, fmt.Errorf("record: unmarshal flags: %w", err)
	}
	return &rec, nil
}

// Ping implements [Pinger].
func (s *PostgresSink) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("record: ping: %w", err)
	}
	return nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
