package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// countingConnector is a database/sql driver that only supports transactions
// and counts how they end.
type countingConnector struct {
	begins    atomic.Int32
	commits   atomic.Int32
	rollbacks atomic.Int32
}

func (c *countingConnector) Connect(context.Context) (driver.Conn, error) {
	return countingConn{c}, nil
}
func (c *countingConnector) Driver() driver.Driver { return countingDriver{c} }

type countingDriver struct{ c *countingConnector }

func (d countingDriver) Open(string) (driver.Conn, error) { return countingConn(d), nil }

type countingConn struct{ c *countingConnector }

func (c countingConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c countingConn) Close() error                        { return nil }
func (c countingConn) Begin() (driver.Tx, error) {
	c.c.begins.Add(1)
	return countingTx(c), nil
}

type countingTx struct{ c *countingConnector }

func (t countingTx) Commit() error   { t.c.commits.Add(1); return nil }
func (t countingTx) Rollback() error { t.c.rollbacks.Add(1); return nil }

func TestWithTxRetry(t *testing.T) {
	serialization := &pgconn.PgError{Code: "40001"}
	policy := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}

	cases := []struct {
		name      string
		failures  []error // returned by successive attempts; nil after the list ends
		wantCalls int32
		wantErr   error
		commits   int32
	}{
		{"first try", nil, 1, nil, 1},
		{"transient then ok", []error{serialization, serialization}, 3, nil, 1},
		{"transient every time", []error{serialization, serialization, serialization, serialization}, 3, serialization, 0},
		{"not transient", []error{errInsufficient}, 1, errInsufficient, 0},
		{"deadlock then ok", []error{&pgconn.PgError{Code: "40P01"}}, 2, nil, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := &countingConnector{}
			db := sql.OpenDB(conn)
			defer db.Close()

			var calls atomic.Int32
			err := WithTxRetry(context.Background(), db, &sql.TxOptions{}, policy, func(ctx context.Context, tx *sql.Tx) error {
				n := calls.Add(1)
				if int(n) <= len(tc.failures) {
					return tc.failures[n-1]
				}
				return nil
			})

			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if got := calls.Load(); got != tc.wantCalls {
				t.Fatalf("expected %d attempts, got %d", tc.wantCalls, got)
			}
			if got := conn.begins.Load(); got != tc.wantCalls {
				t.Fatalf("expected a fresh transaction per attempt, got %d begins", got)
			}
			if got := conn.commits.Load(); got != tc.commits {
				t.Fatalf("expected %d commits, got %d", tc.commits, got)
			}
			if got := conn.rollbacks.Load(); got != tc.wantCalls-tc.commits {
				t.Fatalf("expected failed attempts rolled back, got %d rollbacks", got)
			}
		})
	}
}

var errInsufficient = errors.New("insufficient balance")

func TestWithTxRetry_StopsOnCancel(t *testing.T) {
	conn := &countingConnector{}
	db := sql.OpenDB(conn)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	start := time.Now()
	err := WithTxRetry(ctx, db, &sql.TxOptions{}, RetryPolicy{Attempts: 5, Backoff: time.Hour}, func(context.Context, *sql.Tx) error {
		calls.Add(1)
		cancel()
		return &pgconn.PgError{Code: "40001"}
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retry after cancel, got %d attempts", calls.Load())
	}
	if time.Since(start) > time.Minute {
		t.Fatalf("backoff was not interrupted")
	}
}
