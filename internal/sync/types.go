package sync

import (
	"time"

	"github.com/shwemill/millsync/internal/models"
)

// PassResult summarizes one drain pass over the mutation queue.
type PassResult struct {
	Attempted  int           `json:"attempted"`
	Succeeded  int           `json:"succeeded"`
	Retried    int           `json:"retried"`
	Failed     int           `json:"failed"`
	Conflicted int           `json:"conflicted"`
	Deferred   int           `json:"deferred"`
	Pulled     int           `json:"pulled"`
	Aborted    bool          `json:"aborted"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}

// EntityRef identifies one ledger entity by its local identity.
type EntityRef struct {
	Type    models.EntityType
	LocalID uint
}

// Status is the engine snapshot exposed to the API and pushed to websocket
// subscribers after every pass.
type Status struct {
	IsRunning      bool        `json:"isRunning"`
	IsOnline       bool        `json:"isOnline"`
	SyncInProgress bool        `json:"syncInProgress"`
	PendingCount   int64       `json:"pendingCount"`
	LastSyncAt     *time.Time  `json:"lastSyncAt,omitempty"`
	LastResult     *PassResult `json:"lastResult,omitempty"`
}

// collectionPath maps an entity type to its REST collection segment.
func collectionPath(t models.EntityType) string {
	switch t {
	case models.EntityCustomer:
		return "customers"
	case models.EntityInventory:
		return "inventory-items"
	case models.EntityTransaction:
		return "transactions"
	case models.EntityPayment:
		return "payments"
	case models.EntityMilling:
		return "milling-records"
	case models.EntityUser:
		return "users"
	}
	return string(t) + "s"
}
