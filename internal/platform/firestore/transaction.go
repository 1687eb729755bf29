package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// Tx wraps a Firestore transaction. Reads go straight to the transaction while writes are queued
// and applied when the callback returns, so callers may interleave reads and writes freely.
type Tx struct {
	tx     *firestore.Transaction
	writes []func(*firestore.Transaction) error
}

// Get reads a document inside the transaction.
func (t *Tx) Get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	return t.tx.Get(ref)
}

// Documents runs a query inside the transaction.
func (t *Tx) Documents(q firestore.Queryer) *firestore.DocumentIterator {
	return t.tx.Documents(q)
}

// Create queues a create that fails when the document exists.
func (t *Tx) Create(ref *firestore.DocumentRef, data any) {
	t.writes = append(t.writes, func(tx *firestore.Transaction) error {
		return tx.Create(ref, data)
	})
}

// Set queues an upsert.
func (t *Tx) Set(ref *firestore.DocumentRef, data any, opts ...firestore.SetOption) {
	t.writes = append(t.writes, func(tx *firestore.Transaction) error {
		return tx.Set(ref, data, opts...)
	})
}

// Delete queues a delete.
func (t *Tx) Delete(ref *firestore.DocumentRef) {
	t.writes = append(t.writes, func(tx *firestore.Transaction) error {
		return tx.Delete(ref)
	})
}

func (t *Tx) flush() error {
	for _, write := range t.writes {
		if err := write(t.tx); err != nil {
			return err
		}
	}
	return nil
}

type txContextKey struct{}

// TxFromContext returns the transaction started by RunTransaction, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*Tx)
	return tx, ok && tx != nil
}

// WithoutTransaction detaches ctx from any active transaction so work runs on its own.
func WithoutTransaction(ctx context.Context) context.Context {
	return context.WithValue(ctx, txContextKey{}, (*Tx)(nil))
}

// RunTransaction executes fn within a transaction on the provided client. The transaction travels
// on the context passed to fn; Firestore may invoke fn more than once on contention.
func RunTransaction(ctx context.Context, client *firestore.Client, fn func(ctx context.Context) error, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if cfg.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	err := client.RunTransaction(ctx, func(ctx context.Context, raw *firestore.Transaction) error {
		tx := &Tx{tx: raw}
		if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
			return err
		}
		return tx.flush()
	}, firestore.MaxAttempts(cfg.attempts))

	return WrapError("transaction", err)
}
