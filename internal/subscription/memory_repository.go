package subscription

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu           sync.Mutex
	entitlements map[string]Entitlement
	byRef        map[string]string
	unlocks      map[string]map[string]time.Time
}

// NewMemoryRepository returns an in-memory Repository for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		entitlements: make(map[string]Entitlement),
		byRef:        make(map[string]string),
		unlocks:      make(map[string]map[string]time.Time),
	}
}

func (r *memoryRepository) Create(_ context.Context, e Entitlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byRef[e.PaymentRef]; exists {
		return ErrDuplicatePayment
	}
	r.entitlements[e.ID] = e
	r.byRef[e.PaymentRef] = e.ID
	return nil
}

func (r *memoryRepository) FindByPaymentRef(_ context.Context, ref string) (Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRef[ref]
	if !ok {
		return Entitlement{}, ErrNotFound
	}
	return r.entitlements[id], nil
}

func (r *memoryRepository) FindActive(_ context.Context, identityID string, now time.Time) (Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		best  Entitlement
		found bool
	)
	for _, e := range r.entitlements {
		if e.IdentityID != identityID || !e.ActiveAt(now) {
			continue
		}
		if !found || e.EndsAt.After(best.EndsAt) {
			best, found = e, true
		}
	}
	if !found {
		return Entitlement{}, ErrNotFound
	}
	return best, nil
}

func (r *memoryRepository) ListByIdentity(_ context.Context, identityID string) ([]Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entitlement
	for _, e := range r.entitlements {
		if e.IdentityID == identityID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) Unlock(_ context.Context, entitlementID, farmerID string, at time.Time) (UnlockResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entitlements[entitlementID]
	if !ok {
		return UnlockResult{}, ErrNotFound
	}
	if _, done := r.unlocks[entitlementID][farmerID]; done {
		return UnlockResult{FarmerID: farmerID, UnitsRemaining: e.UnitsRemaining, AlreadyUnlocked: true}, nil
	}
	if e.UnitsRemaining <= 0 {
		return UnlockResult{}, ErrNoUnitsRemaining
	}
	if r.unlocks[entitlementID] == nil {
		r.unlocks[entitlementID] = make(map[string]time.Time)
	}
	r.unlocks[entitlementID][farmerID] = at
	e.UnitsRemaining--
	r.entitlements[entitlementID] = e
	return UnlockResult{FarmerID: farmerID, UnitsRemaining: e.UnitsRemaining}, nil
}

func (r *memoryRepository) ExpireLapsed(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, e := range r.entitlements {
		if e.Status == StatusActive && !now.Before(e.EndsAt) {
			e.Status = StatusExpired
			r.entitlements[id] = e
			n++
		}
	}
	return n, nil
}
