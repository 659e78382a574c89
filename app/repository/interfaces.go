package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
)

var (
	// ErrNotFound is returned by single-row lookups that match nothing.
	ErrNotFound = gorm.ErrRecordNotFound
)

// OrderRepository defines the database operations on checkout orders
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	// FindForEvent matches the gateway order id or the merchant receipt.
	FindForEvent(ctx context.Context, providerOrderID, receipt string) (*models.Order, error)
	// FindByAnyID matches the merchant order id or the gateway order id.
	FindByAnyID(ctx context.Context, id string) (*models.Order, error)
	// TransitionStatus sets payment_status to `to` only if the current status
	// is one of allowedFrom, and reports whether a row changed.
	TransitionStatus(ctx context.Context, orderID, to string, allowedFrom []string, fields map[string]interface{}) (bool, error)
	UpdateFields(ctx context.Context, orderID string, fields map[string]interface{}) error
}

// PaymentRepository defines the database operations on payment attempts
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.Payment, error)
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	ExistsByWebhookEventID(ctx context.Context, eventID string) (bool, error)
	LatestForOrder(ctx context.Context, orderID string) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]models.Payment, error)
	// AdvanceStatus applies fields only while the row is still in one of
	// fromStatuses, and reports whether a row changed.
	AdvanceStatus(ctx context.Context, id string, fromStatuses []string, fields map[string]interface{}) (bool, error)
}

// PurchaseRepository defines the database operations on purchases
type PurchaseRepository interface {
	// Create inserts the purchase and reports false when one already exists
	// for the same webhook event.
	Create(ctx context.Context, purchase *models.Purchase) (bool, error)
	GetByWebhookEventID(ctx context.Context, eventID string) (*models.Purchase, error)
	FindByOrderAndPayment(ctx context.Context, orderID, providerPaymentID string) (*models.Purchase, error)
	ListByOrder(ctx context.Context, orderID string) ([]models.Purchase, error)
}

// TransactionRepository defines the database operations on the audit trail
type TransactionRepository interface {
	// Create appends an entry and reports false when the (source event,
	// event type) pair was already recorded.
	Create(ctx context.Context, tx *models.Transaction) (bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]models.Transaction, error)
	CountBySourceEvent(ctx context.Context, sourceEventID, eventType string) (int64, error)
}

// PaymentLogFilter selects payment log entries. Zero values are ignored.
type PaymentLogFilter struct {
	OrderID   string
	PaymentID string
	Status    string
	Method    string
	EventType string
	Source    string
	StartDate *time.Time
	EndDate   *time.Time
	Offset    int
	Limit     int
}

// PaymentLogRepository defines the database operations on the payment log
type PaymentLogRepository interface {
	// Create reports false when an entry for the same webhook event exists.
	Create(ctx context.Context, entry *models.PaymentLog) (bool, error)
	ExistsByWebhookEventID(ctx context.Context, eventID string) (bool, error)
	List(ctx context.Context, filter PaymentLogFilter) ([]models.PaymentLog, int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	db          *gorm.DB
	Order       OrderRepository
	Payment     PaymentRepository
	Purchase    PurchaseRepository
	Transaction TransactionRepository
	PaymentLog  PaymentLogRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:          db,
		Order:       NewOrderRepository(db),
		Payment:     NewPaymentRepository(db),
		Purchase:    NewPurchaseRepository(db),
		Transaction: NewTransactionRepository(db),
		PaymentLog:  NewPaymentLogRepository(db),
	}
}

// InTransaction runs fn with repositories bound to a single database
// transaction. The transaction commits when fn returns nil.
func (r *Repositories) InTransaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
