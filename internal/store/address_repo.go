// Package store provides the AddressRepo interface and the bounded AddressBook.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

// DefaultMaxSavedAddresses bounds how many addresses an identity may keep.
const DefaultMaxSavedAddresses = 3

// ErrAddressIndexOutOfRange is returned when deleting a position that does not exist.
var ErrAddressIndexOutOfRange = errors.New("saved address index out of range")

// SavedAddressRecord is a persisted address row.
type SavedAddressRecord struct {
	ID        int64     `json:"id"`
	Identity  string    `json:"identity"`
	Address   string    `json:"address"`
	Unit      string    `json:"unit"`
	CreatedAt time.Time `json:"created_at"`
}

// AddressRepo persists saved addresses, oldest first.
type AddressRepo interface {
	ListSavedAddresses(ctx context.Context, identity string) ([]SavedAddressRecord, error)
	InsertSavedAddress(ctx context.Context, identity, address, unit string) error
	DeleteSavedAddress(ctx context.Context, id int64) error
}

// UpsertOutcome reports what UpsertSaved did.
type UpsertOutcome string

const (
	OutcomeSaved        UpsertOutcome = "saved"
	OutcomeDuplicate    UpsertOutcome = "duplicate"
	OutcomeLimitReached UpsertOutcome = "limit_reached"
)

// AddressBook applies the per-identity limit and duplicate detection on top of an AddressRepo.
type AddressBook struct {
	repo AddressRepo
	max  int
}

// NewAddressBook wraps repo. limit <= 0 uses DefaultMaxSavedAddresses.
func NewAddressBook(repo AddressRepo, limit int) *AddressBook {
	if limit <= 0 {
		limit = DefaultMaxSavedAddresses
	}
	return &AddressBook{repo: repo, max: limit}
}

// Max returns the per-identity limit.
func (b *AddressBook) Max() int {
	return b.max
}

// ListSaved returns the saved addresses for identity in display order.
func (b *AddressBook) ListSaved(ctx context.Context, identity string) ([]models.SavedAddress, error) {
	recs, err := b.repo.ListSavedAddresses(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("list saved addresses: %w", err)
	}
	out := make([]models.SavedAddress, len(recs))
	for i, r := range recs {
		out[i] = models.SavedAddress{Address: r.Address, Unit: r.Unit}
	}
	return out, nil
}

// UpsertSaved stores an address unless it is already saved or the limit is reached.
func (b *AddressBook) UpsertSaved(ctx context.Context, identity, address, unit string) (UpsertOutcome, error) {
	recs, err := b.repo.ListSavedAddresses(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("list saved addresses: %w", err)
	}
	for _, r := range recs {
		if sameAddress(r.Address, address) && sameAddress(r.Unit, unit) {
			slog.Debug("AddressBook.UpsertSaved: duplicate", "identity", identity)
			return OutcomeDuplicate, nil
		}
	}
	if len(recs) >= b.max {
		slog.Debug("AddressBook.UpsertSaved: limit reached", "identity", identity, "max", b.max)
		return OutcomeLimitReached, nil
	}
	if err := b.repo.InsertSavedAddress(ctx, identity, address, unit); err != nil {
		return "", fmt.Errorf("insert saved address: %w", err)
	}
	slog.Debug("AddressBook.UpsertSaved: saved", "identity", identity)
	return OutcomeSaved, nil
}

// DeleteSaved removes the address at the 0-based position index.
func (b *AddressBook) DeleteSaved(ctx context.Context, identity string, index int) (bool, error) {
	recs, err := b.repo.ListSavedAddresses(ctx, identity)
	if err != nil {
		return false, fmt.Errorf("list saved addresses: %w", err)
	}
	if index < 0 || index >= len(recs) {
		return false, ErrAddressIndexOutOfRange
	}
	if err := b.repo.DeleteSavedAddress(ctx, recs[index].ID); err != nil {
		return false, fmt.Errorf("delete saved address: %w", err)
	}
	return true, nil
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}
