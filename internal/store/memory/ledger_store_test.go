package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantdesk/alertpool/internal/domain"
)

func TestLedgerStore_AppendAndList(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	first := domain.LedgerEntry{ID: "l1", PoolID: "swing", Symbol: "AAPL", Operation: domain.OperationBuy, Quantity: 30, Price: 10, Amount: 300, ExecutedAt: time.Unix(100, 0)}
	second := domain.LedgerEntry{ID: "l2", PoolID: "swing", Symbol: "AAPL", Operation: domain.OperationSell, Quantity: -30, Price: 12, Amount: -360, ExecutedAt: time.Unix(200, 0)}

	if err := store.Append(ctx, first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, second); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.ListByPool(ctx, "swing", domain.ListOpts{})
	if err != nil {
		t.Fatalf("ListByPool failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	// Newest first.
	if got[0].ID != "l2" || got[1].ID != "l1" {
		t.Errorf("Wrong order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestLedgerStore_RejectsIncompleteEntry(t *testing.T) {
	store := NewLedgerStore()

	err := store.Append(context.Background(), domain.LedgerEntry{ID: "", PoolID: "swing"})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
}

func TestLedgerStore_ListBefore(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	old := domain.LedgerEntry{ID: "l1", PoolID: "swing", ExecutedAt: time.Unix(100, 0)}
	recent := domain.LedgerEntry{ID: "l2", PoolID: "swing", ExecutedAt: time.Unix(900, 0)}
	if err := store.Append(ctx, old); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, recent); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.ListBefore(ctx, time.Unix(500, 0))
	if err != nil {
		t.Fatalf("ListBefore failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "l1" {
		t.Errorf("Expected only l1, got %v", got)
	}
}

func TestLedgerStore_PoolIsolation(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	if err := store.Append(ctx, domain.LedgerEntry{ID: "l1", PoolID: "swing"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, domain.LedgerEntry{ID: "l2", PoolID: "daytrade"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.ListByPool(ctx, "daytrade", domain.ListOpts{})
	if err != nil {
		t.Fatalf("ListByPool failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "l2" {
		t.Errorf("Expected only l2, got %v", got)
	}
}
