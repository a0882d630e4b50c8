package store

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/shwemill/millsync/internal/models"
)

func TestCanonicalColumnsCustomer(t *testing.T) {
	data := []byte(`{"name":"Daw Mya","phone":"09750000001","address":"Pathein","balance":"1250.50"}`)
	cols, err := canonicalColumns(models.EntityCustomer, data)
	if err != nil {
		t.Fatalf("canonicalColumns: %v", err)
	}
	if cols["name"] != "Daw Mya" || cols["phone"] != "09750000001" || cols["address"] != "Pathein" {
		t.Errorf("cols = %v", cols)
	}
	balance, ok := cols["balance"].(decimal.Decimal)
	if !ok || !balance.Equal(decimal.RequireFromString("1250.50")) {
		t.Errorf("balance = %v, want 1250.50", cols["balance"])
	}
}

func TestCanonicalColumnsTransactionMergesSettlementOnly(t *testing.T) {
	data := []byte(`{"status":"cancelled","paidAmount":"300","totalAmount":"999","items":[{"quantity":"5"}]}`)
	cols, err := canonicalColumns(models.EntityTransaction, data)
	if err != nil {
		t.Fatalf("canonicalColumns: %v", err)
	}
	if cols["status"] != models.TransactionCancelled {
		t.Errorf("status = %v, want cancelled", cols["status"])
	}
	paid, ok := cols["paid_amount"].(decimal.Decimal)
	if !ok || !paid.Equal(decimal.NewFromInt(300)) {
		t.Errorf("paid_amount = %v, want 300", cols["paid_amount"])
	}
	for _, forbidden := range []string{"total_amount", "items", "customer_local_id"} {
		if _, present := cols[forbidden]; present {
			t.Errorf("server must not overwrite %s", forbidden)
		}
	}
}

func TestCanonicalColumnsInventoryKeepsLocalStock(t *testing.T) {
	data := []byte(`{"name":"Pawsan Paddy","category":"paddy","currentQuantity":"0","averagePricePerKg":"0"}`)
	cols, err := canonicalColumns(models.EntityInventory, data)
	if err != nil {
		t.Fatalf("canonicalColumns: %v", err)
	}
	if cols["name"] != "Pawsan Paddy" || cols["category"] != models.CategoryPaddy {
		t.Errorf("cols = %v", cols)
	}
	for _, forbidden := range []string{"current_quantity", "current_bags", "average_price_per_kg"} {
		if _, present := cols[forbidden]; present {
			t.Errorf("server must not overwrite %s", forbidden)
		}
	}
}

func TestCanonicalColumnsRejectsMalformedBody(t *testing.T) {
	if _, err := canonicalColumns(models.EntityCustomer, []byte(`{"balance":`)); err == nil {
		t.Fatal("expected decode error")
	}
}
