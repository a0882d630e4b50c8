package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/shwemill/millsync/internal/ledger"
	"github.com/shwemill/millsync/internal/middleware"
	"github.com/shwemill/millsync/internal/sync"
	"github.com/shwemill/millsync/internal/websocket"
)

// RouterDeps carries everything the HTTP layer needs.
type RouterDeps struct {
	DB        *gorm.DB
	Service   *ledger.Service
	Engine    *sync.Engine
	Queue     sync.QueueStore
	Hub       *websocket.Hub
	JWTSecret string
}

// NewRouter wires all endpoints. Everything under /api/v1 except login
// requires a bearer token.
func NewRouter(deps RouterDeps) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWs(deps.Hub, w, req)
	})

	auth := NewAuthHandler(deps.DB, deps.JWTSecret)
	r.HandleFunc("/api/v1/auth/login", auth.Login).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware(deps.JWTSecret))

	customers := NewCustomerHandler(deps.Service)
	api.HandleFunc("/customers", customers.List).Methods(http.MethodGet)
	api.HandleFunc("/customers", customers.Create).Methods(http.MethodPost)
	api.HandleFunc("/customers/{id}", customers.Get).Methods(http.MethodGet)
	api.HandleFunc("/customers/{id}", customers.Update).Methods(http.MethodPut)
	api.HandleFunc("/customers/{id}", customers.Delete).Methods(http.MethodDelete)

	inventory := NewInventoryHandler(deps.Service)
	api.HandleFunc("/items", inventory.List).Methods(http.MethodGet)
	api.HandleFunc("/items", inventory.Create).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}", inventory.Get).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}/adjust", inventory.Adjust).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}/movements", inventory.Movements).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}/verify", inventory.Verify).Methods(http.MethodGet)

	transactions := NewTransactionHandler(deps.Service)
	api.HandleFunc("/transactions", transactions.List).Methods(http.MethodGet)
	api.HandleFunc("/transactions/buy", transactions.Buy).Methods(http.MethodPost)
	api.HandleFunc("/transactions/sell", transactions.Sell).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}", transactions.Get).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}/cancel", transactions.Cancel).Methods(http.MethodPost)

	milling := NewMillingHandler(deps.Service)
	api.HandleFunc("/milling", milling.List).Methods(http.MethodGet)
	api.HandleFunc("/milling", milling.Create).Methods(http.MethodPost)

	payments := NewPaymentHandler(deps.Service)
	api.HandleFunc("/payments", payments.List).Methods(http.MethodGet)
	api.HandleFunc("/payments", payments.Create).Methods(http.MethodPost)

	syncH := NewSyncHandler(deps.Engine, deps.Queue)
	api.HandleFunc("/sync/status", syncH.Status).Methods(http.MethodGet)
	api.HandleFunc("/sync/trigger", syncH.Trigger).Methods(http.MethodPost)
	api.HandleFunc("/sync/pending", syncH.Pending).Methods(http.MethodGet)
	api.HandleFunc("/sync/failed", syncH.Failed).Methods(http.MethodGet)
	api.HandleFunc("/sync/conflicts", syncH.Conflicts).Methods(http.MethodGet)
	api.HandleFunc("/sync/reset/{id}", syncH.Reset).Methods(http.MethodPost)

	return r
}
