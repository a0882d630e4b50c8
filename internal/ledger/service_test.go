package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/shwemill/millsync/internal/models"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrapping database: %v", err)
	}
	// A second connection would see a different in-memory database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Customer{},
		&models.InventoryItem{},
		&models.StockMovement{},
		&models.Transaction{},
		&models.TransactionItem{},
		&models.Payment{},
		&models.MillingRecord{},
		&models.MutationRecord{},
	); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewService(db, log), db
}

func pendingMutations(t *testing.T, db *gorm.DB, et models.EntityType, id uint) []models.MutationRecord {
	t.Helper()
	var recs []models.MutationRecord
	err := db.Where("entity_type = ? AND entity_id = ? AND status = ?", et, id, models.MutationPending).
		Find(&recs).Error
	if err != nil {
		t.Fatalf("loading mutations for %s/%d: %v", et, id, err)
	}
	return recs
}

func seedCustomerAndItem(t *testing.T, svc *Service) (*models.Customer, *models.InventoryItem) {
	t.Helper()
	ctx := context.Background()
	customer, err := svc.CreateCustomer(ctx, CustomerInput{Name: "U Hla", Phone: "09751234567"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	item, err := svc.CreateInventoryItem(ctx, ItemInput{Name: "Pawsan Paddy", Category: models.CategoryPaddy})
	if err != nil {
		t.Fatalf("CreateInventoryItem: %v", err)
	}
	return customer, item
}

func TestBuyCoversEveryDirtiedRow(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer, item := seedCustomerAndItem(t, svc)

	txn, err := svc.CreateBuyTransaction(ctx, TransactionInput{
		CustomerLocalID: customer.LocalID,
		Items: []TransactionItemInput{
			{ItemLocalID: item.LocalID, Quantity: d("500"), Bags: 10, PricePerKg: d("50")},
		},
	})
	if err != nil {
		t.Fatalf("CreateBuyTransaction: %v", err)
	}

	got, err := svc.GetItem(ctx, item.LocalID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !got.CurrentQuantity.Equal(d("500")) || got.CurrentBags != 10 {
		t.Errorf("stock = %s kg / %d bags, want 500/10", got.CurrentQuantity, got.CurrentBags)
	}
	if !got.AveragePricePerKg.Equal(d("50")) {
		t.Errorf("average = %s, want 50", got.AveragePricePerKg)
	}

	// Every row the buy dirtied must be covered by its own pending mutation
	// in the same commit, not left for a later reconcile.
	checks := []struct {
		et models.EntityType
		id uint
	}{
		{models.EntityTransaction, txn.LocalID},
		{models.EntityInventory, item.LocalID},
		{models.EntityCustomer, customer.LocalID},
	}
	for _, c := range checks {
		recs := pendingMutations(t, db, c.et, c.id)
		if len(recs) != 1 {
			t.Fatalf("%s/%d: %d pending mutations, want 1", c.et, c.id, len(recs))
		}
		if recs[0].Operation != models.OpCreate {
			t.Errorf("%s/%d: operation = %q, want create", c.et, c.id, recs[0].Operation)
		}
	}

	// The customer's pending create was coalesced and now carries the
	// post-buy balance.
	recs := pendingMutations(t, db, models.EntityCustomer, customer.LocalID)
	var snapshot models.Customer
	if err := json.Unmarshal(recs[0].Payload, &snapshot); err != nil {
		t.Fatalf("decoding customer payload: %v", err)
	}
	if !snapshot.Balance.Equal(d("-25000")) {
		t.Errorf("payload balance = %s, want -25000", snapshot.Balance)
	}
}

func TestOverdrawnSellWritesNothing(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer, item := seedCustomerAndItem(t, svc)

	if _, err := svc.CreateBuyTransaction(ctx, TransactionInput{
		CustomerLocalID: customer.LocalID,
		Items: []TransactionItemInput{
			{ItemLocalID: item.LocalID, Quantity: d("100"), Bags: 2, PricePerKg: d("50")},
		},
	}); err != nil {
		t.Fatalf("CreateBuyTransaction: %v", err)
	}

	var before int64
	db.Model(&models.MutationRecord{}).Count(&before)

	_, err := svc.CreateSellTransaction(ctx, TransactionInput{
		CustomerLocalID: customer.LocalID,
		Items: []TransactionItemInput{
			{ItemLocalID: item.LocalID, Quantity: d("600"), Bags: 1, PricePerKg: d("70")},
		},
	})
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("error = %v, want InsufficientStockError", err)
	}

	got, _ := svc.GetItem(ctx, item.LocalID)
	if !got.CurrentQuantity.Equal(d("100")) {
		t.Errorf("stock = %s, want untouched 100", got.CurrentQuantity)
	}
	var after int64
	db.Model(&models.MutationRecord{}).Count(&after)
	if after != before {
		t.Errorf("queue grew from %d to %d on a rejected sell", before, after)
	}
	var sells int64
	db.Model(&models.StockMovement{}).Where("kind = ?", models.MovementSell).Count(&sells)
	if sells != 0 {
		t.Errorf("%d sell movements written on a rejected sell", sells)
	}
}

func TestCancelUnsyncedBuyFoldsIntoPendingCreate(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer, item := seedCustomerAndItem(t, svc)

	txn, err := svc.CreateBuyTransaction(ctx, TransactionInput{
		CustomerLocalID: customer.LocalID,
		Items: []TransactionItemInput{
			{ItemLocalID: item.LocalID, Quantity: d("500"), Bags: 10, PricePerKg: d("50")},
		},
	})
	if err != nil {
		t.Fatalf("CreateBuyTransaction: %v", err)
	}
	if _, err := svc.CancelTransaction(ctx, txn.LocalID); err != nil {
		t.Fatalf("CancelTransaction: %v", err)
	}

	got, _ := svc.GetItem(ctx, item.LocalID)
	if !got.CurrentQuantity.IsZero() || got.CurrentBags != 0 {
		t.Errorf("stock = %s kg / %d bags after compensation, want 0/0", got.CurrentQuantity, got.CurrentBags)
	}

	recs := pendingMutations(t, db, models.EntityTransaction, txn.LocalID)
	if len(recs) != 1 || recs[0].Operation != models.OpCreate {
		t.Fatalf("transaction mutations = %+v, want one coalesced create", recs)
	}
	var snapshot models.Transaction
	if err := json.Unmarshal(recs[0].Payload, &snapshot); err != nil {
		t.Fatalf("decoding transaction payload: %v", err)
	}
	if snapshot.Status != models.TransactionCancelled {
		t.Errorf("payload status = %q, want cancelled", snapshot.Status)
	}

	if recs := pendingMutations(t, db, models.EntityInventory, item.LocalID); len(recs) != 1 {
		t.Errorf("item mutations = %d, want 1 coalesced record", len(recs))
	}
	if recs := pendingMutations(t, db, models.EntityCustomer, customer.LocalID); len(recs) != 1 {
		t.Errorf("customer mutations = %d, want 1 coalesced record", len(recs))
	}
}

func TestMillingCoversBothItems(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	_, paddy := seedCustomerAndItem(t, svc)
	rice, err := svc.CreateInventoryItem(ctx, ItemInput{Name: "Pawsan Rice", Category: models.CategoryRice})
	if err != nil {
		t.Fatalf("CreateInventoryItem: %v", err)
	}
	if _, err := svc.AdjustStock(ctx, AdjustmentInput{
		ItemLocalID: paddy.LocalID, Quantity: d("1000"), Bags: 20, PricePerKg: d("40"),
	}); err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}

	run, err := svc.RecordMilling(ctx, MillingInput{
		PaddyItemLocalID: paddy.LocalID,
		RiceItemLocalID:  rice.LocalID,
		PaddyQuantity:    d("650"),
		PaddyBags:        13,
		RiceQuantity:     d("400"),
		RiceBags:         8,
	})
	if err != nil {
		t.Fatalf("RecordMilling: %v", err)
	}

	gotPaddy, _ := svc.GetItem(ctx, paddy.LocalID)
	if !gotPaddy.CurrentQuantity.Equal(d("350")) {
		t.Errorf("paddy stock = %s, want 350", gotPaddy.CurrentQuantity)
	}
	gotRice, _ := svc.GetItem(ctx, rice.LocalID)
	if !gotRice.CurrentQuantity.Equal(d("400")) {
		t.Errorf("rice stock = %s, want 400", gotRice.CurrentQuantity)
	}
	if !gotRice.AveragePricePerKg.Equal(d("65")) {
		t.Errorf("rice average = %s, want 65 (650kg at 40 over 400kg)", gotRice.AveragePricePerKg)
	}

	if recs := pendingMutations(t, db, models.EntityMilling, run.LocalID); len(recs) != 1 {
		t.Errorf("milling mutations = %d, want 1", len(recs))
	}
	if recs := pendingMutations(t, db, models.EntityInventory, paddy.LocalID); len(recs) != 1 {
		t.Errorf("paddy mutations = %d, want 1 coalesced record", len(recs))
	}
	if recs := pendingMutations(t, db, models.EntityInventory, rice.LocalID); len(recs) != 1 {
		t.Errorf("rice mutations = %d, want 1 coalesced record", len(recs))
	}
}

func TestPaymentCoversCustomerAndTransaction(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer, item := seedCustomerAndItem(t, svc)

	txn, err := svc.CreateBuyTransaction(ctx, TransactionInput{
		CustomerLocalID: customer.LocalID,
		Items: []TransactionItemInput{
			{ItemLocalID: item.LocalID, Quantity: d("500"), Bags: 10, PricePerKg: d("50")},
		},
	})
	if err != nil {
		t.Fatalf("CreateBuyTransaction: %v", err)
	}

	payment, err := svc.RecordPayment(ctx, PaymentInput{
		CustomerLocalID:    customer.LocalID,
		TransactionLocalID: &txn.LocalID,
		Direction:          models.PaymentOut,
		Amount:             d("5000"),
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	gotCustomer, _ := svc.GetCustomer(ctx, customer.LocalID)
	if !gotCustomer.Balance.Equal(d("-20000")) {
		t.Errorf("balance = %s, want -20000 after paying out 5000", gotCustomer.Balance)
	}

	if recs := pendingMutations(t, db, models.EntityPayment, payment.LocalID); len(recs) != 1 {
		t.Errorf("payment mutations = %d, want 1", len(recs))
	}
	if recs := pendingMutations(t, db, models.EntityCustomer, customer.LocalID); len(recs) != 1 {
		t.Errorf("customer mutations = %d, want 1 coalesced record", len(recs))
	}

	recs := pendingMutations(t, db, models.EntityTransaction, txn.LocalID)
	if len(recs) != 1 {
		t.Fatalf("transaction mutations = %d, want 1 coalesced record", len(recs))
	}
	var snapshot models.Transaction
	if err := json.Unmarshal(recs[0].Payload, &snapshot); err != nil {
		t.Fatalf("decoding transaction payload: %v", err)
	}
	if !snapshot.PaidAmount.Equal(d("5000")) {
		t.Errorf("payload paid amount = %s, want 5000", snapshot.PaidAmount)
	}
	if len(snapshot.Items) != 1 {
		t.Errorf("coalesced create payload lost its items: %d lines", len(snapshot.Items))
	}
}
