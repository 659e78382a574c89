package models

// AllModels lists every table owned by the service, in migration order.
func AllModels() []interface{} {
	return []interface{}{&Order{}, &Payment{}, &Purchase{}, &Transaction{}, &PaymentLog{}}
}
