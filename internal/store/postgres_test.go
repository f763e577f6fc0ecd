package store

import (
	"context"
	"os"
	"testing"
)

func getenvOrSkip(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}

func TestPostgresStore_AddressesAndLedger(t *testing.T) {
	// Requires a running PostgreSQL instance reachable through DATABASE_URL.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pg, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pg.Close()

	ctx := context.Background()
	id := "test:postgres-store"
	pg.db.Exec(`DELETE FROM saved_addresses WHERE identity = $1`, id)
	pg.db.Exec(`DELETE FROM payments WHERE identity = $1`, id)

	book := NewAddressBook(pg, 2)
	if got, err := book.UpsertSaved(ctx, id, "Mitre 100", "1A"); err != nil || got != OutcomeSaved {
		t.Fatalf("UpsertSaved = %q, %v", got, err)
	}
	if got, _ := book.UpsertSaved(ctx, id, "Mitre 100", "1A"); got != OutcomeDuplicate {
		t.Errorf("duplicate = %q", got)
	}

	if err := pg.AppendPayment(ctx, PaymentRecord{Identity: id, PaymentDate: "01/09/2025", Amount: "100.00", Address: "Mitre 100"}); err != nil {
		t.Fatalf("AppendPayment: %v", err)
	}
	list, err := pg.ListPayments(ctx, id)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListPayments = %d, %v", len(list), err)
	}

	isNew, err := pg.RecordInbound("pg-msg-1-"+id, id)
	if err != nil {
		t.Fatalf("RecordInbound: %v", err)
	}
	if isNew {
		again, _ := pg.RecordInbound("pg-msg-1-"+id, id)
		if again {
			t.Error("duplicate inbound recorded twice")
		}
	}
}
