package reconcile

import "github.com/ManuelReschke/PayFox/app/models"

// allowedFrom lists, per target order status, the statuses an event may move
// an order out of. Paid orders are never moved back by a late event.
var allowedFrom = map[string][]string{
	models.OrderStatusAuthorized: {models.OrderStatusPending, models.OrderStatusFailed},
	models.OrderStatusCompleted:  {models.OrderStatusPending, models.OrderStatusAuthorized, models.OrderStatusFailed},
	models.OrderStatusFailed:     {models.OrderStatusPending, models.OrderStatusAuthorized},
}

// paymentRank orders payment statuses. A payment only moves to a status of
// higher rank.
var paymentRank = map[string]int{
	models.PaymentStatusCreated:    0,
	models.PaymentStatusAuthorized: 1,
	models.PaymentStatusFailed:     2,
	models.PaymentStatusCaptured:   3,
	models.PaymentStatusRefunded:   4,
}

// paymentAdvanceFrom returns the payment statuses that may move to target.
func paymentAdvanceFrom(target string) []string {
	limit, ok := paymentRank[target]
	if !ok {
		return nil
	}
	var from []string
	for status, rank := range paymentRank {
		if rank < limit {
			from = append(from, status)
		}
	}
	return from
}

// CanTransition reports whether an order in status from may move to to.
func CanTransition(from, to string) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}
