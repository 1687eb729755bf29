package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "no rows", err: pgx.ErrNoRows, notFound: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, conflict: true},
		{name: "serialization failure", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), conflict: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, unavailable: true},
		{name: "connection exception", err: &pgconn.PgError{Code: "08006"}, unavailable: true},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var repoErr *Error
			if !errors.As(wrapError("orders.find", tc.err), &repoErr) {
				t.Fatalf("expected *Error")
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification: notFound=%v conflict=%v unavailable=%v",
					repoErr.IsNotFound(), repoErr.IsConflict(), repoErr.IsUnavailable())
			}
		})
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := wrapError("orders.list", context.Canceled); err != context.Canceled {
		t.Fatalf("expected context.Canceled to pass through, got %v", err)
	}
	if err := wrapError("orders.list", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestSchemaDeclaresUniqueInvoicePerOrder(t *testing.T) {
	for _, fragment := range []string{
		"order_id   text NOT NULL UNIQUE REFERENCES orders (id)",
		"number     text NOT NULL UNIQUE",
		"CHECK (stock >= 0)",
		"CREATE TABLE IF NOT EXISTS idempotency_keys",
	} {
		if !strings.Contains(schema, fragment) {
			t.Fatalf("schema missing %q", fragment)
		}
	}
}
