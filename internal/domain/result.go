package domain

// Disposition — итог обработки сообщения с точки зрения бизнеса.
type Disposition string

const (
	DispositionAccepted Disposition = "accepted"
	DispositionRejected Disposition = "rejected"
)

// RejectReason объясняет, почему сообщение отброшено.
type RejectReason string

const (
	// RejectCustomerNotFound — команда от клиента, которого нет в каталоге.
	RejectCustomerNotFound RejectReason = "customer_not_found"
	// RejectOrderNotFound — событие ссылается на несуществующую пару (order_id, customer_id).
	RejectOrderNotFound RejectReason = "order_not_found"
)

// Result описывает исход обработки. Отказ является значением, а не ошибкой:
// ошибки зарезервированы для инфраструктурных сбоев.
type Result struct {
	Disposition Disposition
	Reason      RejectReason
	OrderID     int64
}

// Accepted сообщает, что сообщение обработано.
func Accepted(orderID int64) Result {
	return Result{Disposition: DispositionAccepted, OrderID: orderID}
}

// Rejected сообщает, что сообщение отброшено без побочных эффектов.
func Rejected(reason RejectReason) Result {
	return Result{Disposition: DispositionRejected, Reason: reason}
}

// IsRejected сообщает, было ли сообщение отброшено.
func (r Result) IsRejected() bool {
	return r.Disposition == DispositionRejected
}
