package pipeline

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
)

// Tracker keeps the bridge transaction records of this process in memory.
type Tracker struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*models.BridgeTransaction
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[uuid.UUID]*models.BridgeTransaction),
		now:     time.Now,
	}
}

// Start creates a pending record and returns a copy of it.
func (t *Tracker) Start(srcChainKey, dstChainKey string, amount decimal.Decimal) models.BridgeTransaction {
	rec := models.NewBridgeTransaction(srcChainKey, dstChainKey, amount, t.now())
	t.mu.Lock()
	t.records[rec.ID] = rec
	t.mu.Unlock()
	return *rec
}

func (t *Tracker) update(id uuid.UUID, fn func(rec *models.BridgeTransaction, now time.Time) error) (models.BridgeTransaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return models.BridgeTransaction{}, fmt.Errorf("bridge transaction %s not found", id)
	}
	if err := fn(rec, t.now()); err != nil {
		return *rec, err
	}
	return *rec, nil
}

// SetSourceHash stores the submitted hash on a pending record.
func (t *Tracker) SetSourceHash(id uuid.UUID, hash string) (models.BridgeTransaction, error) {
	return t.update(id, func(rec *models.BridgeTransaction, now time.Time) error {
		return rec.SetSourceHash(hash, now)
	})
}

// Confirm marks a record confirmed.
func (t *Tracker) Confirm(id uuid.UUID) (models.BridgeTransaction, error) {
	return t.update(id, func(rec *models.BridgeTransaction, now time.Time) error {
		return rec.Confirm(now)
	})
}

// Fail marks a record failed.
func (t *Tracker) Fail(id uuid.UUID, kind, message string) (models.BridgeTransaction, error) {
	return t.update(id, func(rec *models.BridgeTransaction, now time.Time) error {
		return rec.Fail(kind, message, now)
	})
}

// Get returns a copy of one record.
func (t *Tracker) Get(id uuid.UUID) (models.BridgeTransaction, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	if !ok {
		return models.BridgeTransaction{}, false
	}
	return *rec, true
}

// List returns copies of every record, oldest first.
func (t *Tracker) List() []models.BridgeTransaction {
	t.mu.RLock()
	out := make([]models.BridgeTransaction, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.BridgeTransaction) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}
