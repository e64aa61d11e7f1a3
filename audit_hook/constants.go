package audithook

// Action constants for audit events.
const (
	// Invoice actions
	ActionInvoiceCreated   = "invoice.created"
	ActionPaymentReceived  = "payment.received"
	ActionFundsReleased    = "funds.released"
	ActionInvoiceCancelled = "invoice.cancelled"

	// Command outcome actions
	ActionCommandRejected     = "command.rejected"
	ActionTransferCompensated = "transfer.compensated"
)

// Resource constants for audit events.
const (
	ResourceInvoice = "invoice"
	ResourceEscrow  = "escrow"
)

// Category constants for audit events.
const (
	CategoryInvoicing = "invoicing"
	CategoryPayment   = "payment"
	CategoryAccess    = "access"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
