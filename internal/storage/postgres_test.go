package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

// uvDriver fails every statement with a postgres unique violation, standing
// in for the partial unique index on orders(driver_id) firing when two
// assigns race for the same driver.
type uvDriver struct{}

func (uvDriver) Open(string) (driver.Conn, error) { return uvConn{}, nil }

type uvConn struct{}

func (uvConn) Prepare(string) (driver.Stmt, error) { return uvStmt{}, nil }
func (uvConn) Close() error                        { return nil }
func (uvConn) Begin() (driver.Tx, error)           { return uvTx{}, nil }

type uvTx struct{}

func (uvTx) Commit() error   { return nil }
func (uvTx) Rollback() error { return nil }

type uvStmt struct{}

func (uvStmt) Close() error  { return nil }
func (uvStmt) NumInput() int { return -1 }
func (uvStmt) Exec([]driver.Value) (driver.Result, error) {
	return nil, &pq.Error{Code: "23505"}
}
func (uvStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, &pq.Error{Code: "23505"}
}

func init() { sql.Register("unique-violation", uvDriver{}) }

func uvStore(t *testing.T) *PostgresStore {
	t.Helper()
	db, err := sql.Open("unique-violation", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return NewPostgresStoreWithDB(db)
}

func TestAssignOrderLosesRaceOnUniqueViolation(t *testing.T) {
	ps := uvStore(t)
	ok, err := ps.AssignOrder(context.Background(), "o1", "d1")
	if err != nil {
		t.Fatalf("a unique violation is a lost race, not a fault: %v", err)
	}
	if ok {
		t.Fatal("assignment must not report success when the driver index rejects it")
	}
}

func TestCreateCandidacyLosesRaceOnUniqueViolation(t *testing.T) {
	ps := uvStore(t)
	ok, err := ps.CreateCandidacy(context.Background(), testCandidacy("o1", "d1"))
	if err != nil {
		t.Fatalf("a unique violation is a lost race, not a fault: %v", err)
	}
	if ok {
		t.Fatal("candidacy must not report success when the driver already holds one")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Fatal("nil is not a unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Fatal("arbitrary errors are not unique violations")
	}
	wrapped := fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
	if !isUniqueViolation(wrapped) {
		t.Fatal("wrapped pq unique violations must be recognized")
	}
}
