package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldUserID      = "user_id"
	FieldFamilyID    = "family_id"
	FieldAccountID   = "account_id"
	FieldReceiptID   = "receipt_id"
	FieldItemCount   = "item_count"
	FieldAmountCents = "amount_cents"
	FieldCategory    = "category"
	FieldModel       = "model"
	FieldTokens      = "total_tokens"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentStorage = "storage"
	ComponentIngest  = "ingest"
	ComponentFamily  = "family"
	ComponentAccount = "account"
	ComponentSpend   = "spend"
	ComponentReceipt = "receipt"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentCache   = "cache"
)
