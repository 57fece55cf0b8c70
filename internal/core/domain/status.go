package domain

// MapExternalStatus converts a Mercado Pago payment status to an order status.
// Unknown statuses map to pending.
func MapExternalStatus(external string) Status {
	switch external {
	case "approved":
		return StatusApproved
	case "pending":
		return StatusPending
	case "rejected":
		return StatusRejected
	case "cancelled":
		return StatusCancelled
	case "refunded":
		return StatusRefunded
	default:
		return StatusPending
	}
}
