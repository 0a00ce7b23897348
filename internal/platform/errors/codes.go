// Package errors provides structured error handling with i18n support.
package errors

// Code is a machine-readable error code.
type Code string

// Kind groups codes by how callers recover from them.
type Kind string

const (
	KindTransport  Kind = "TRANSPORT"
	KindNotFound   Kind = "NOT_FOUND"
	KindIOError    Kind = "IO_ERROR"
	KindValidation Kind = "VALIDATION_ERROR"
	KindProtocol   Kind = "PROTOCOL_ERROR"
	KindFatal      Kind = "FATAL"
)

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Object store (C1) errors.
	CodeObjectStoreTransport   Code = "OBJECT_STORE_TRANSPORT"
	CodeObjectStoreNotFound    Code = "OBJECT_STORE_NOT_FOUND"
	CodeObjectStoreUnreachable Code = "OBJECT_STORE_UNREACHABLE"

	// Invoice store (C2) errors.
	CodeInvoiceNotFound  Code = "INVOICE_NOT_FOUND"
	CodeInvoiceIOError   Code = "INVOICE_IO_ERROR"
	CodeInvoiceCorrupt   Code = "INVOICE_RECORD_CORRUPT"
	CodeStorageDirFailed Code = "STORAGE_DIR_UNCREATABLE"

	// Registry (C3) errors.
	CodeRegistryEntryMissing Code = "REGISTRY_ENTRY_MISSING"

	// Session router (C5) validation/protocol errors.
	CodeValidationMissingField Code = "VALIDATION_MISSING_FIELD"
	CodeValidationEmptyField   Code = "VALIDATION_EMPTY_FIELD"
	CodeProtocolMalformedJSON  Code = "PROTOCOL_MALFORMED_JSON"
	CodeProtocolUnknownType    Code = "PROTOCOL_UNKNOWN_TYPE"

	// External sink errors.
	CodeSinkTransport Code = "SINK_TRANSPORT"
)

// KindOf returns the error kind a code belongs to.
func (c Code) KindOf() Kind {
	switch c {
	case CodeObjectStoreTransport, CodeSinkTransport:
		return KindTransport
	case CodeObjectStoreNotFound, CodeInvoiceNotFound, CodeRegistryEntryMissing:
		return KindNotFound
	case CodeInvoiceIOError, CodeInvoiceCorrupt:
		return KindIOError
	case CodeValidationMissingField, CodeValidationEmptyField:
		return KindValidation
	case CodeProtocolMalformedJSON, CodeProtocolUnknownType:
		return KindProtocol
	case CodeObjectStoreUnreachable, CodeStorageDirFailed:
		return KindFatal
	default:
		return KindTransport
	}
}
