package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/shwemill/millsync/internal/models"
)

// Service implements every business operation of the mill. Each write is one
// database transaction covering the entity rows, their stock movements and
// the mutation queue record, so a crash can never leave a half-applied
// operation or an unqueued change.
type Service struct {
	db       *gorm.DB
	validate *validator.Validate
	log      *logrus.Entry

	// notify is called after a committed write that enqueued a mutation,
	// so the sync engine can pick it up immediately when online.
	notify func()
}

// NewService creates the domain service.
func NewService(db *gorm.DB, log *logrus.Logger) *Service {
	return &Service{
		db:       db,
		validate: validator.New(),
		log:      log.WithField("component", "ledger"),
	}
}

// SetNotify registers the post-commit sync trigger.
func (s *Service) SetNotify(fn func()) {
	s.notify = fn
}

func (s *Service) afterCommit() {
	if s.notify != nil {
		s.notify()
	}
}

// priorityFor maps entity types to their queue priority: money first, then
// stock-affecting records, then master data.
func priorityFor(t models.EntityType) models.SyncPriority {
	switch t {
	case models.EntityPayment:
		return models.PriorityCritical
	case models.EntityTransaction, models.EntityMilling:
		return models.PriorityHigh
	default:
		return models.PriorityNormal
	}
}

// enqueueMutation adds a mutation record inside the caller's transaction.
// A still-pending record for the same entity and operation is coalesced by
// replacing its payload instead of appending a second record; deletes are
// always appended so the ordering rule serializes them after prior work.
func enqueueMutation(tx *gorm.DB, entity models.LocalRecord, op models.MutationOp) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", entity.EntityKind(), err)
	}

	if op != models.OpDelete {
		var existing models.MutationRecord
		err := tx.Where("entity_type = ? AND entity_id = ? AND operation = ? AND status = ?",
			entity.EntityKind(), entity.GetLocalID(), op, models.MutationPending).
			Order("created_at DESC").
			First(&existing).Error
		if err == nil {
			existing.Payload = payload
			return tx.Save(&existing).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}

	rec := models.NewMutationRecord(entity.EntityKind(), entity.GetLocalID(), op, payload, priorityFor(entity.EntityKind()))
	return tx.Create(rec).Error
}

// ---- customers ----

// CustomerInput is the payload for creating or updating a customer.
type CustomerInput struct {
	Name    string `json:"name" validate:"required,min=1,max=255"`
	Phone   string `json:"phone" validate:"required,min=5,max=30"`
	Address string `json:"address" validate:"max=1000"`
}

// CreateCustomer creates a customer and queues its upload.
func (s *Service) CreateCustomer(ctx context.Context, input CustomerInput) (*models.Customer, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}

	customer := &models.Customer{
		Name:    input.Name,
		Phone:   input.Phone,
		Address: input.Address,
		Balance: decimal.Zero,
	}
	customer.MarkDirty()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(customer).Error; err != nil {
			return err
		}
		return enqueueMutation(tx, customer, models.OpCreate)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit()
	return customer, nil
}

// UpdateCustomer edits a customer and queues the change.
func (s *Service) UpdateCustomer(ctx context.Context, localID uint, input CustomerInput) (*models.Customer, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}

	var customer models.Customer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&customer, localID).Error; err != nil {
			return err
		}
		if customer.IsDeleted {
			return fmt.Errorf("customer %d is deleted", localID)
		}
		customer.Name = input.Name
		customer.Phone = input.Phone
		customer.Address = input.Address
		customer.MarkDirty()
		if err := tx.Save(&customer).Error; err != nil {
			return err
		}
		op := models.OpUpdate
		if customer.ServerID == nil {
			// Never created remotely: fold the edit into the create.
			op = models.OpCreate
		}
		return enqueueMutation(tx, &customer, op)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit()
	return &customer, nil
}

// DeleteCustomer tombstones a customer. The row survives locally until the
// server confirms the delete. Customers with an outstanding balance cannot
// be deleted.
func (s *Service) DeleteCustomer(ctx context.Context, localID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var customer models.Customer
		if err := tx.First(&customer, localID).Error; err != nil {
			return err
		}
		if customer.IsDeleted {
			return nil
		}
		if !customer.Balance.IsZero() {
			return fmt.Errorf("customer %s has outstanding balance %s", customer.Name, customer.Balance)
		}
		customer.IsDeleted = true
		customer.MarkDirty()
		if err := tx.Save(&customer).Error; err != nil {
			return err
		}
		return enqueueMutation(tx, &customer, models.OpDelete)
	})
	if err != nil {
		return err
	}
	s.afterCommit()
	return nil
}

// GetCustomer loads one customer.
func (s *Service) GetCustomer(ctx context.Context, localID uint) (*models.Customer, error) {
	var customer models.Customer
	if err := s.db.WithContext(ctx).First(&customer, localID).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// ListCustomers returns all non-deleted customers.
func (s *Service) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	var customers []models.Customer
	err := s.db.WithContext(ctx).
		Where("is_deleted = ?", false).
		Order("name ASC").
		Find(&customers).Error
	return customers, err
}

// ---- inventory ----

// ItemInput is the payload for creating an inventory item.
type ItemInput struct {
	Name     string              `json:"name" validate:"required,min=1,max=255"`
	Category models.ItemCategory `json:"category" validate:"required,oneof=paddy rice byproduct"`
}

// CreateInventoryItem creates an item with zero stock and queues its upload.
func (s *Service) CreateInventoryItem(ctx context.Context, input ItemInput) (*models.InventoryItem, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}

	item := &models.InventoryItem{
		Name:              input.Name,
		Category:          input.Category,
		CurrentQuantity:   decimal.Zero,
		AveragePricePerKg: decimal.Zero,
	}
	item.MarkDirty()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		return enqueueMutation(tx, item, models.OpCreate)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit()
	return item, nil
}

// AdjustmentInput is a manual stock correction, signed.
type AdjustmentInput struct {
	ItemLocalID uint            `json:"itemLocalId" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	Bags        int             `json:"bags"`
	PricePerKg  decimal.Decimal `json:"pricePerKg"`
	Note        string          `json:"note" validate:"max=1000"`
}

// AdjustStock applies a manual correction movement to an item.
func (s *Service) AdjustStock(ctx context.Context, input AdjustmentInput) (*models.InventoryItem, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	if input.Quantity.IsZero() && input.Bags == 0 {
		return nil, fmt.Errorf("adjustment must change quantity or bags")
	}

	var item models.InventoryItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&item, input.ItemLocalID).Error; err != nil {
			return err
		}
		if input.Quantity.Sign() < 0 {
			if err := ValidateDeduction(&item, input.Quantity.Neg(), -input.Bags); err != nil {
				return err
			}
		}
		mv := &models.StockMovement{
			ItemLocalID: item.LocalID,
			Kind:        models.MovementAdjustment,
			Quantity:    input.Quantity,
			Bags:        input.Bags,
			PricePerKg:  input.PricePerKg,
			Note:        input.Note,
		}
		if err := tx.Create(mv).Error; err != nil {
			return err
		}
		ApplyMovement(&item, mv)
		item.MarkDirty()
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		return enqueueMutation(tx, &item, upsertOp(&item))
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit()
	return &item, nil
}

// upsertOp picks the queue operation for a dirtied row: an entity the server
// has never seen folds its edits into the pending create.
func upsertOp(rec models.LocalRecord) models.MutationOp {
	if rec.GetServerID() == nil {
		return models.OpCreate
	}
	return models.OpUpdate
}

// ListItems returns all inventory items.
func (s *Service) ListItems(ctx context.Context) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := s.db.WithContext(ctx).
		Where("is_deleted = ?", false).
		Order("name ASC").
		Find(&items).Error
	return items, err
}

// GetItem loads one inventory item.
func (s *Service) GetItem(ctx context.Context, localID uint) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := s.db.WithContext(ctx).First(&item, localID).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// ListMovements returns an item's movement trail, newest first.
func (s *Service) ListMovements(ctx context.Context, itemLocalID uint) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	err := s.db.WithContext(ctx).
		Where("item_local_id = ?", itemLocalID).
		Order("created_at DESC").
		Find(&movements).Error
	return movements, err
}

// StockCheck reports whether an item's running totals match a replay of its
// movement trail.
type StockCheck struct {
	ItemLocalID      uint            `json:"itemLocalId"`
	Consistent       bool            `json:"consistent"`
	RunningQuantity  decimal.Decimal `json:"runningQuantity"`
	RebuiltQuantity  decimal.Decimal `json:"rebuiltQuantity"`
	RunningBags      int             `json:"runningBags"`
	RebuiltBags      int             `json:"rebuiltBags"`
}

// VerifyStock replays an item's movements and compares them to the stored
// running totals.
func (s *Service) VerifyStock(ctx context.Context, itemLocalID uint) (*StockCheck, error) {
	var item models.InventoryItem
	if err := s.db.WithContext(ctx).First(&item, itemLocalID).Error; err != nil {
		return nil, err
	}
	var movements []models.StockMovement
	if err := s.db.WithContext(ctx).
		Where("item_local_id = ?", itemLocalID).
		Order("created_at ASC, local_id ASC").
		Find(&movements).Error; err != nil {
		return nil, err
	}

	qty, bags, _ := RebuildStock(&item, movements)
	check := &StockCheck{
		ItemLocalID:     itemLocalID,
		RunningQuantity: item.CurrentQuantity,
		RebuiltQuantity: qty,
		RunningBags:     item.CurrentBags,
		RebuiltBags:     bags,
	}
	check.Consistent = qty.Equal(item.CurrentQuantity) && bags == item.CurrentBags
	if !check.Consistent {
		s.log.WithFields(logrus.Fields{
			"item":     item.Name,
			"running":  item.CurrentQuantity,
			"rebuilt":  qty,
		}).Warn("stock totals diverge from movement trail")
	}
	return check, nil
}

// ---- transactions ----

// TransactionItemInput is one line of a buy or sell.
type TransactionItemInput struct {
	ItemLocalID uint            `json:"itemLocalId" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	Bags        int             `json:"bags" validate:"min=0"`
	PricePerKg  decimal.Decimal `json:"pricePerKg" validate:"required"`
}

// TransactionInput is the payload for creating a buy or sell transaction.
type TransactionInput struct {
	CustomerLocalID uint                   `json:"customerLocalId" validate:"required"`
	TransactionDate time.Time              `json:"transactionDate"`
	Items           []TransactionItemInput `json:"items" validate:"required,min=1,dive"`
	PaidAmount      decimal.Decimal        `json:"paidAmount"`
	Note            string                 `json:"note" validate:"max=1000"`
}

// CreateBuyTransaction records a purchase from a customer: stock goes up at
// the purchase price and the unpaid remainder is owed to the customer.
func (s *Service) CreateBuyTransaction(ctx context.Context, input TransactionInput) (*models.Transaction, error) {
	return s.createTransaction(ctx, models.TransactionBuy, input)
}

// CreateSellTransaction records a sale to a customer: stock goes down and the
// unpaid remainder is owed by the customer. Fails without writing anything
// when any line exceeds available stock.
func (s *Service) CreateSellTransaction(ctx context.Context, input TransactionInput) (*models.Transaction, error) {
	return s.createTransaction(ctx, models.TransactionSell, input)
}

func (s *Service) createTransaction(ctx context.Context, kind models.TransactionKind, input TransactionInput) (*models.Transaction, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	for _, line := range input.Items {
		if line.Quantity.Sign() <= 0 {
			return nil, fmt.Errorf("line quantity must be positive")
		}
		if line.PricePerKg.Sign() < 0 {
			return nil, fmt.Errorf("line price must not be negative")
		}
	}
	date := input.TransactionDate
	if date.IsZero() {
		date = time.Now()
	}

	txn := &models.Transaction{
		Kind:            kind,
		Status:          models.TransactionActive,
		CustomerLocalID: input.CustomerLocalID,
		TransactionDate: date,
		PaidAmount:      input.PaidAmount,
		Note:            input.Note,
	}
	txn.MarkDirty()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var customer models.Customer
		if err := tx.First(&customer, input.CustomerLocalID).Error; err != nil {
			return fmt.Errorf("loading customer: %w", err)
		}
		if customer.IsDeleted {
			return fmt.Errorf("customer %d is deleted", customer.LocalID)
		}

		// Load and validate every line before any write, so a sell that
		// would overdraw stock rejects atomically.
		items := make(map[uint]*models.InventoryItem, len(input.Items))
		total := decimal.Zero
		for _, line := range input.Items {
			item, seen := items[line.ItemLocalID]
			if !seen {
				item = &models.InventoryItem{}
				if err := tx.First(item, line.ItemLocalID).Error; err != nil {
					return fmt.Errorf("loading item %d: %w", line.ItemLocalID, err)
				}
				items[line.ItemLocalID] = item
			}
			if kind == models.TransactionSell {
				if err := ValidateDeduction(item, line.Quantity, line.Bags); err != nil {
					return err
				}
				// Account for earlier lines against the same item.
				item.CurrentQuantity = item.CurrentQuantity.Sub(line.Quantity)
				item.CurrentBags -= line.Bags
			}
			total = total.Add(line.Quantity.Mul(line.PricePerKg).Round(2))
		}
		// Validation consumed the running totals; reload clean copies.
		for id := range items {
			if err := tx.First(items[id], id).Error; err != nil {
				return err
			}
		}

		txn.TotalAmount = total
		for _, line := range input.Items {
			txn.Items = append(txn.Items, models.TransactionItem{
				ItemLocalID: line.ItemLocalID,
				Quantity:    line.Quantity,
				Bags:        line.Bags,
				PricePerKg:  line.PricePerKg,
				Amount:      line.Quantity.Mul(line.PricePerKg).Round(2),
			})
		}
		if err := tx.Create(txn).Error; err != nil {
			return err
		}

		for _, line := range input.Items {
			item := items[line.ItemLocalID]
			mv := &models.StockMovement{
				ItemLocalID:        line.ItemLocalID,
				TransactionLocalID: &txn.LocalID,
				PricePerKg:         line.PricePerKg,
			}
			if kind == models.TransactionBuy {
				mv.Kind = models.MovementBuy
				mv.Quantity = line.Quantity
				mv.Bags = line.Bags
			} else {
				mv.Kind = models.MovementSell
				mv.Quantity = line.Quantity.Neg()
				mv.Bags = -line.Bags
			}
			if err := tx.Create(mv).Error; err != nil {
				return err
			}
			ApplyMovement(item, mv)
			item.MarkDirty()
			if err := tx.Save(item).Error; err != nil {
				return err
			}
		}
		// Every dirtied item must carry its own queue record, or it sits
		// unsynced with nothing covering it until the next reconcile.
		for _, item := range items {
			if err := enqueueMutation(tx, item, upsertOp(item)); err != nil {
				return err
			}
		}

		// Buy: the mill owes the unpaid remainder. Sell: the customer does.
		outstanding := total.Sub(input.PaidAmount)
		if kind == models.TransactionBuy {
			customer.Balance = customer.Balance.Sub(outstanding)
		} else {
			customer.Balance = customer.Balance.Add(outstanding)
		}
		customer.MarkDirty()
		if err := tx.Save(&customer).Error; err != nil {
			return err
		}
		if err := enqueueMutation(tx, &customer, upsertOp(&customer)); err != nil {
			return err
		}

		return enqueueMutation(tx, txn, models.OpCreate)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit()
	return txn, nil
}

// CancelTransaction reverses a transaction with compensating stock movements
// and balance adjustments. The original rows stay untouched so the audit
// trail is never rewritten, and cancellation works whether or not the
// transaction has synced yet.
func (s *Service) CancelTransaction(ctx context.Context, localID uint) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Items").First(&txn, localID).Error; err != nil {
			return err
		}
		if txn.Status == models.TransactionCancelled {
			return fmt.Errorf("transaction %d is already cancelled", localID)
		}

		for _, line := range txn.Items {
			var item models.InventoryItem
			if err := tx.First(&item, line.ItemLocalID).Error; err != nil {
				return err
			}
			mv := &models.StockMovement{
				ItemLocalID:        line.ItemLocalID,
				TransactionLocalID: &txn.LocalID,
			}
			if txn.Kind == models.TransactionBuy {
				// Undoing a buy removes the stock it added; the removal
				// must not overdraw what is left.
				if err := ValidateDeduction(&item, line.Quantity, line.Bags); err != nil {
					return err
				}
				mv.Kind = models.MovementCancelBuy
				mv.Quantity = line.Quantity.Neg()
				mv.Bags = -line.Bags
			} else {
				// Undoing a sell restores the stock at its current cost
				// basis, not at the sale price.
				mv.Kind = models.MovementCancelSell
				mv.Quantity = line.Quantity
				mv.Bags = line.Bags
				mv.PricePerKg = item.AveragePricePerKg
			}
			if err := tx.Create(mv).Error; err != nil {
				return err
			}
			ApplyMovement(&item, mv)
			item.MarkDirty()
			if err := tx.Save(&item).Error; err != nil {
				return err
			}
			if err := enqueueMutation(tx, &item, upsertOp(&item)); err != nil {
				return err
			}
		}

		var customer models.Customer
		if err := tx.First(&customer, txn.CustomerLocalID).Error; err != nil {
			return err
		}
		outstanding := txn.TotalAmount.Sub(txn.PaidAmount)
		if txn.Kind == models.TransactionBuy {
			customer.Balance = customer.Balance.Add(outstanding)
		} else {
			customer.Balance = customer.Balance.Sub(outstanding)
		}
		customer.MarkDirty()
		if err := tx.Save(&customer).Error; err != nil {
			return err
		}
		if err := enqueueMutation(tx, &customer, upsertOp(&customer)); err != nil {
			return err
		}

		txn.Status = models.TransactionCancelled
		txn.MarkDirty()
		if err := tx.Save(&txn).Error; err != nil {
			return err
		}

		op := models.OpUpdate
		if txn.ServerID == nil {
			// The create has not shipped yet: fold the cancelled status
			// into the pending create payload.
			op = models.OpCreate
		}
		return enqueueMutation(tx, &txn, op)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit()
	return &txn, nil
}

// GetTransaction loads one transaction with its items.
func (s *Service) GetTransaction(ctx context.Context, localID uint) (*models.Transaction, error) {
	var txn models.Transaction
	if err := s.db.WithContext(ctx).Preload("Items").First(&txn, localID).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListTransactions returns transactions newest first, optionally filtered by
// customer.
func (s *Service) ListTransactions(ctx context.Context, customerLocalID uint) ([]models.Transaction, error) {
	q := s.db.WithContext(ctx).Preload("Items").Order("transaction_date DESC")
	if customerLocalID != 0 {
		q = q.Where("customer_local_id = ?", customerLocalID)
	}
	var txns []models.Transaction
	err := q.Find(&txns).Error
	return txns, err
}

// ---- milling ----

// MillingInput is the payload for recording a milling run.
type MillingInput struct {
	PaddyItemLocalID uint            `json:"paddyItemLocalId" validate:"required"`
	RiceItemLocalID  uint            `json:"riceItemLocalId" validate:"required"`
	MillingDate      time.Time       `json:"millingDate"`
	PaddyQuantity    decimal.Decimal `json:"paddyQuantity" validate:"required"`
	PaddyBags        int             `json:"paddyBags" validate:"min=0"`
	RiceQuantity     decimal.Decimal `json:"riceQuantity" validate:"required"`
	RiceBags         int             `json:"riceBags" validate:"min=0"`
	Note             string          `json:"note" validate:"max=1000"`
}

// RecordMilling converts paddy into rice in one atomic unit: the paddy
// deduction, the rice addition and the milling record all commit together or
// not at all. The produced rice is priced at the cost of the paddy consumed.
func (s *Service) RecordMilling(ctx context.Context, input MillingInput) (*models.MillingRecord, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	if input.PaddyQuantity.Sign() <= 0 || input.RiceQuantity.Sign() <= 0 {
		return nil, fmt.Errorf("milling quantities must be positive")
	}
	if input.RiceQuantity.GreaterThan(input.PaddyQuantity) {
		return nil, fmt.Errorf("rice output %s exceeds paddy input %s", input.RiceQuantity, input.PaddyQuantity)
	}
	if input.PaddyItemLocalID == input.RiceItemLocalID {
		return nil, fmt.Errorf("paddy and rice must be different items")
	}
	date := input.MillingDate
	if date.IsZero() {
		date = time.Now()
	}

	milling := &models.MillingRecord{
		PaddyItemLocalID: input.PaddyItemLocalID,
		RiceItemLocalID:  input.RiceItemLocalID,
		MillingDate:      date,
		PaddyQuantity:    input.PaddyQuantity,
		PaddyBags:        input.PaddyBags,
		RiceQuantity:     input.RiceQuantity,
		RiceBags:         input.RiceBags,
		WastageQuantity:  input.PaddyQuantity.Sub(input.RiceQuantity),
		YieldPercent:     input.RiceQuantity.Mul(decimal.NewFromInt(100)).DivRound(input.PaddyQuantity, 2),
		Note:             input.Note,
	}
	milling.MarkDirty()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var paddy, rice models.InventoryItem
		if err := tx.First(&paddy, input.PaddyItemLocalID).Error; err != nil {
			return fmt.Errorf("loading paddy item: %w", err)
		}
		if err := tx.First(&rice, input.RiceItemLocalID).Error; err != nil {
			return fmt.Errorf("loading rice item: %w", err)
		}
		if paddy.Category != models.CategoryPaddy {
			return fmt.Errorf("item %s is not paddy", paddy.Name)
		}
		if err := ValidateDeduction(&paddy, input.PaddyQuantity, input.PaddyBags); err != nil {
			return err
		}

		if err := tx.Create(milling).Error; err != nil {
			return err
		}

		intakePrice := MillingIntakePrice(input.PaddyQuantity, paddy.AveragePricePerKg, input.RiceQuantity)

		deduct := &models.StockMovement{
			ItemLocalID:    paddy.LocalID,
			MillingLocalID: &milling.LocalID,
			Kind:           models.MovementMillingDeduct,
			Quantity:       input.PaddyQuantity.Neg(),
			Bags:           -input.PaddyBags,
		}
		if err := tx.Create(deduct).Error; err != nil {
			return err
		}
		ApplyMovement(&paddy, deduct)
		paddy.MarkDirty()
		if err := tx.Save(&paddy).Error; err != nil {
			return err
		}
		if err := enqueueMutation(tx, &paddy, upsertOp(&paddy)); err != nil {
			return err
		}

		add := &models.StockMovement{
			ItemLocalID:    rice.LocalID,
			MillingLocalID: &milling.LocalID,
			Kind:           models.MovementMillingAdd,
			Quantity:       input.RiceQuantity,
			Bags:           input.RiceBags,
			PricePerKg:     intakePrice,
		}
		if err := tx.Create(add).Error; err != nil {
			return err
		}
		ApplyMovement(&rice, add)
		rice.MarkDirty()
		if err := tx.Save(&rice).Error; err != nil {
			return err
		}
		if err := enqueueMutation(tx, &rice, upsertOp(&rice)); err != nil {
			return err
		}

		return enqueueMutation(tx, milling, models.OpCreate)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit()
	return milling, nil
}

// ListMillings returns milling runs newest first.
func (s *Service) ListMillings(ctx context.Context) ([]models.MillingRecord, error) {
	var runs []models.MillingRecord
	err := s.db.WithContext(ctx).Order("milling_date DESC").Find(&runs).Error
	return runs, err
}

// ---- payments ----

// PaymentInput is the payload for recording a settlement.
type PaymentInput struct {
	CustomerLocalID    uint                    `json:"customerLocalId" validate:"required"`
	TransactionLocalID *uint                   `json:"transactionLocalId"`
	Direction          models.PaymentDirection `json:"direction" validate:"required,oneof=in out"`
	Amount             decimal.Decimal         `json:"amount" validate:"required"`
	Method             string                  `json:"method" validate:"max=30"`
	PaymentDate        time.Time               `json:"paymentDate"`
	Note               string                  `json:"note" validate:"max=1000"`
}

// RecordPayment books a settlement against a customer balance, optionally
// tied to a transaction whose paid amount it advances.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (*models.Payment, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	if input.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("payment amount must be positive")
	}
	date := input.PaymentDate
	if date.IsZero() {
		date = time.Now()
	}
	method := input.Method
	if method == "" {
		method = "cash"
	}

	payment := &models.Payment{
		CustomerLocalID:    input.CustomerLocalID,
		TransactionLocalID: input.TransactionLocalID,
		Direction:          input.Direction,
		Amount:             input.Amount,
		Method:             method,
		PaymentDate:        date,
		Note:               input.Note,
	}
	payment.MarkDirty()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var customer models.Customer
		if err := tx.First(&customer, input.CustomerLocalID).Error; err != nil {
			return err
		}
		if input.Direction == models.PaymentIn {
			customer.Balance = customer.Balance.Sub(input.Amount)
		} else {
			customer.Balance = customer.Balance.Add(input.Amount)
		}
		customer.MarkDirty()
		if err := tx.Save(&customer).Error; err != nil {
			return err
		}
		if err := enqueueMutation(tx, &customer, upsertOp(&customer)); err != nil {
			return err
		}

		if input.TransactionLocalID != nil {
			// Items must ride along: an unsynced transaction coalesces this
			// edit into its pending create payload.
			var txn models.Transaction
			if err := tx.Preload("Items").First(&txn, *input.TransactionLocalID).Error; err != nil {
				return err
			}
			if txn.Status == models.TransactionCancelled {
				return fmt.Errorf("cannot pay against cancelled transaction %d", txn.LocalID)
			}
			txn.PaidAmount = txn.PaidAmount.Add(input.Amount)
			txn.MarkDirty()
			if err := tx.Save(&txn).Error; err != nil {
				return err
			}
			if err := enqueueMutation(tx, &txn, upsertOp(&txn)); err != nil {
				return err
			}
		}

		if err := tx.Create(payment).Error; err != nil {
			return err
		}
		return enqueueMutation(tx, payment, models.OpCreate)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit()
	return payment, nil
}

// ListPayments returns payments newest first, optionally filtered by
// customer.
func (s *Service) ListPayments(ctx context.Context, customerLocalID uint) ([]models.Payment, error) {
	q := s.db.WithContext(ctx).Order("payment_date DESC")
	if customerLocalID != 0 {
		q = q.Where("customer_local_id = ?", customerLocalID)
	}
	var payments []models.Payment
	err := q.Find(&payments).Error
	return payments, err
}
