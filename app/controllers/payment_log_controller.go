package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/repository"
)

const (
	defaultLogPageSize = 50
	maxLogPageSize     = 500
)

// PaymentLogController is the read-only reporting surface.
type PaymentLogController struct {
	logs         repository.PaymentLogRepository
	transactions repository.TransactionRepository
}

func NewPaymentLogController(logs repository.PaymentLogRepository, transactions repository.TransactionRepository) *PaymentLogController {
	return &PaymentLogController{logs: logs, transactions: transactions}
}

// HandleListLogs supports page, limit, status, method, eventType, source,
// orderId, paymentId, startDate and endDate query parameters.
func (lc *PaymentLogController) HandleListLogs(c *fiber.Ctx) error {
	filter, page, err := logFilterFromQuery(c)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_query", err.Error())
	}
	return lc.respond(c, filter, page)
}

func (lc *PaymentLogController) HandleLogsByOrder(c *fiber.Ctx) error {
	filter, page, err := logFilterFromQuery(c)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_query", err.Error())
	}
	filter.OrderID = c.Params("orderId")
	return lc.respond(c, filter, page)
}

func (lc *PaymentLogController) respond(c *fiber.Ctx, filter repository.PaymentLogFilter, page int) error {
	entries, total, err := lc.logs.List(c.UserContext(), filter)
	if err != nil {
		log.Errorf("[PaymentLog] Query failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Failed to load payment logs")
	}

	pages := int64(0)
	if filter.Limit > 0 {
		pages = (total + int64(filter.Limit) - 1) / int64(filter.Limit)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    entries,
		"pagination": fiber.Map{
			"page":  page,
			"limit": filter.Limit,
			"total": total,
			"pages": pages,
		},
	})
}

// HandleOrderTransactions lists the audit trail of an order, oldest first.
func (lc *PaymentLogController) HandleOrderTransactions(c *fiber.Ctx) error {
	txs, err := lc.transactions.ListByOrder(c.UserContext(), c.Params("orderId"))
	if err != nil {
		log.Errorf("[PaymentLog] Transaction query for %s failed: %v", c.Params("orderId"), err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Failed to load transactions")
	}
	return c.JSON(fiber.Map{"success": true, "orderId": c.Params("orderId"), "transactions": txs})
}

func logFilterFromQuery(c *fiber.Ctx) (repository.PaymentLogFilter, int, error) {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", defaultLogPageSize)
	if limit < 1 {
		limit = defaultLogPageSize
	}
	if limit > maxLogPageSize {
		limit = maxLogPageSize
	}

	filter := repository.PaymentLogFilter{
		OrderID:   c.Query("orderId"),
		PaymentID: c.Query("paymentId"),
		Status:    c.Query("status"),
		Method:    c.Query("method"),
		EventType: c.Query("eventType"),
		Source:    c.Query("source"),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	}

	var err error
	if filter.StartDate, err = parseDate(c.Query("startDate")); err != nil {
		return filter, page, err
	}
	if filter.EndDate, err = parseDate(c.Query("endDate")); err != nil {
		return filter, page, err
	}
	return filter, page, nil
}

// parseDate accepts RFC 3339 timestamps or plain dates.
func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "dates must be YYYY-MM-DD or RFC 3339")
	}
	return &t, nil
}
