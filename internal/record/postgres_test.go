package record

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func sampleRecord() Record {
	return New("CA123", "clinic",
		map[string]string{"name": "Anna Schmidt", "dob": "14.03.1985"},
		[]string{"name_unconfirmed"}, "+4930123456",
		time.Date(2026, 5, 4, 10, 30, 0, 0, time.FixedZone("CEST", 2*3600)))
}

func TestNew_CopiesAndNormalises(t *testing.T) {
	t.Parallel()
	fields := map[string]string{"a": "1"}
	rec := New("CA1", "s", fields, nil, "", time.Date(2026, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)))
	fields["a"] = "changed"

	if rec.Fields["a"] != "1" {
		t.Error("fields not copied")
	}
	if rec.Flags == nil || len(rec.Flags) != 0 {
		t.Errorf("flags = %#v, want empty non-nil", rec.Flags)
	}
	if rec.ID == uuid.Nil {
		t.Error("ID not set")
	}
	if rec.CompletedAt.Location() != time.UTC || rec.CompletedAt.Hour() != 11 {
		t.Errorf("CompletedAt = %v, want UTC", rec.CompletedAt)
	}
}

func TestMigrations(t *testing.T) {
	t.Parallel()
	data, err := fs.ReadFile(Migrations(), "00001_intake_records.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(data)
	for _, want := range []string{"-- +goose Up", "-- +goose Down", "CREATE TABLE IF NOT EXISTS intake_records", "UNIQUE (call_id, schema_name)"} {
		if !strings.Contains(sql, want) {
			t.Errorf("migration missing %q", want)
		}
	}
}

func TestPostgresSink_Save(t *testing.T) {
	t.Parallel()
	rec := sampleRecord()

	var (
		gotSQL  string
		gotArgs []any
	)
	db := &mockDB{execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		gotSQL, gotArgs = sql, args
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}}
	if err := NewPostgresSink(db).Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if !strings.Contains(gotSQL, "INSERT INTO intake_records") || !strings.Contains(gotSQL, "ON CONFLICT") {
		t.Errorf("sql = %s", gotSQL)
	}
	if len(gotArgs) != 7 {
		t.Fatalf("args = %d, want 7", len(gotArgs))
	}
	if gotArgs[0] != rec.ID || gotArgs[1] != "CA123" || gotArgs[2] != "clinic" || gotArgs[5] != "+4930123456" {
		t.Errorf("args = %v", gotArgs)
	}
	var fields map[string]string
	if err := sonic.Unmarshal(gotArgs[3].([]byte), &fields); err != nil || fields["dob"] != "14.03.1985" {
		t.Errorf("fields arg = %s (%v)", gotArgs[3], err)
	}
	if string(gotArgs[4].([]byte)) != `["name_unconfirmed"]` {
		t.Errorf("flags arg = %s", gotArgs[4])
	}
}

func TestPostgresSink_SaveErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tag     pgconn.CommandTag
		err     error
		wantDup bool
	}{
		{name: "duplicate", tag: pgconn.NewCommandTag("INSERT 0 0"), wantDup: true},
		{name: "db error", err: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
				return tt.tag, tt.err
			}}
			err := NewPostgresSink(db).Save(context.Background(), sampleRecord())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrDuplicate); got != tt.wantDup {
				t.Errorf("errors.Is(ErrDuplicate) = %v, want %v (%v)", got, tt.wantDup, err)
			}
		})
	}
}

func TestPostgresSink_Get(t *testing.T) {
	t.Parallel()
	want := sampleRecord()
	db := &mockDB{queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
		if args[0] != "CA123" || args[1] != "clinic" {
			return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
		}
		return &mockRow{scanFunc: func(dest ...any) error {
			*dest[0].(*uuid.UUID) = want.ID
			*dest[1].(*string) = want.CallID
			*dest[2].(*string) = want.Schema
			*dest[3].(*[]byte) = []byte(`{"name":"Anna Schmidt"}`)
			*dest[4].(*[]byte) = []byte(`["name_unconfirmed"]`)
			*dest[5].(*string) = want.Caller
			*dest[6].(*time.Time) = want.CompletedAt
			return nil
		}}
	}}
	s := NewPostgresSink(db)

	got, err := s.Get(context.Background(), "CA123", "clinic")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ID != want.ID || got.Fields["name"] != "Anna Schmidt" || len(got.Flags) != 1 {
		t.Errorf("got %+v", got)
	}

	missing, err := s.Get(context.Background(), "CA999", "clinic")
	if err != nil || missing != nil {
		t.Errorf("missing = %+v, %v; want nil, nil", missing, err)
	}
}

func TestPostgresSink_Ping(t *testing.T) {
	t.Parallel()
	ok := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error { *dest[0].(*int) = 1; return nil }}
	}}
	if err := NewPostgresSink(ok).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := NewPostgresSink(&mockDB{}).Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}
