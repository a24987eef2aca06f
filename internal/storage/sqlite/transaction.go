package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/filigree-dev/filigree/internal/storage"
	"github.com/filigree-dev/filigree/internal/types"
)

// querier is the common surface of *sql.DB, *sql.Conn and *sql.Tx. The
// per-entity helpers in this package take a querier so the same code serves
// both pooled calls and explicit transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ storage.Transaction = (*txStorage)(nil)

// txStorage implements storage.Transaction over a dedicated connection with
// an open IMMEDIATE transaction.
type txStorage struct {
	conn *sql.Conn
}

// beginImmediateWithRetry starts an IMMEDIATE transaction, backing off on
// SQLITE_BUSY. IMMEDIATE takes the write lock up front, so two writers never
// deadlock mid-transaction.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(10*time.Millisecond)), 5), ctx)
	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err != nil && !strings.Contains(err.Error(), "SQLITE_BUSY") &&
			!strings.Contains(err.Error(), "database is locked") {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// RunInTransaction executes fn within one IMMEDIATE transaction. On error or
// panic the transaction rolls back; the panic is re-raised.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback still runs when ctx is cancelled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&txStorage{conn: conn}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (t *txStorage) CreateIssue(ctx context.Context, issue *types.Issue, actor string) error {
	return createIssue(ctx, t.conn, issue, actor)
}

func (t *txStorage) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	return getIssue(ctx, t.conn, id)
}

func (t *txStorage) UpdateIssue(ctx context.Context, id string, updates map[string]any, events []*types.Event) error {
	return updateIssue(ctx, t.conn, id, updates, events)
}

func (t *txStorage) AddDependency(ctx context.Context, dep *types.Dependency, actor string) error {
	return addDependency(ctx, t.conn, dep, actor)
}

func (t *txStorage) AddComment(ctx context.Context, issueID, author, text string) (*types.Comment, error) {
	return addComment(ctx, t.conn, issueID, author, text)
}

func (t *txStorage) AddLabel(ctx context.Context, issueID, label, actor string) error {
	return addLabel(ctx, t.conn, issueID, label, actor)
}

func (t *txStorage) RecordEvent(ctx context.Context, ev *types.Event) error {
	return recordEvent(ctx, t.conn, ev)
}

// Savepoint nests fn inside SAVEPOINT/RELEASE. On failure the savepoint is
// rolled back and released so the enclosing transaction can continue with
// the next item. name must be a bare identifier; callers generate it.
func (t *txStorage) Savepoint(ctx context.Context, name string, fn func() error) error {
	if _, err := t.conn.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		_, _ = t.conn.ExecContext(ctx, "ROLLBACK TO "+name)
		_, _ = t.conn.ExecContext(ctx, "RELEASE "+name)
		return err
	}
	if _, err := t.conn.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
