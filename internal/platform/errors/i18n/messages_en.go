package i18n

// enUS holds the English (US) message templates keyed by error code.
// Templates use text/template with the error metadata map as dot.
var enUS = map[Code]string{
	"UNKNOWN": "Something went wrong. Please try again.",

	"OBJECT_STORE_TRANSPORT":   "The document storage service is temporarily unavailable.",
	"OBJECT_STORE_NOT_FOUND":   "Document {{.key}} is not available yet.",
	"OBJECT_STORE_UNREACHABLE": "The document storage service could not be reached.",

	"INVOICE_NOT_FOUND":       "Invoice {{.invoiceNumber}} not found",
	"INVOICE_IO_ERROR":        "Invoice {{.invoiceNumber}} could not be saved. It will be retried shortly.",
	"INVOICE_RECORD_CORRUPT":  "The stored record for invoice {{.invoiceNumber}} is unreadable.",
	"STORAGE_DIR_UNCREATABLE": "Invoice storage is unavailable.",

	"REGISTRY_ENTRY_MISSING": "No pending order matches invoice {{.invoiceNumber}}.",

	"VALIDATION_MISSING_FIELD": "Field {{.field}} is required.",
	"VALIDATION_EMPTY_FIELD":   "Field {{.field}} must not be empty.",
	"PROTOCOL_MALFORMED_JSON":  "The message could not be parsed.",
	"PROTOCOL_UNKNOWN_TYPE":    "Unsupported message type {{.type}}.",

	"SINK_TRANSPORT": "The order service is temporarily unavailable.",
}
