package wsgateway

import "encoding/json"

// inboundFrame is the tagged union over every client frame kind. Unknown
// kinds fall through dispatch untouched.
type inboundFrame struct {
	Type string `json:"type"`

	// register, register_expected_invoice
	UserID string `json:"userId,omitempty"`

	// register_expected_invoice, request_invoice
	InvoiceNumber string     `json:"invoiceNumber,omitempty"`
	PlayerID      string     `json:"playerId,omitempty"`
	OrderData     *orderData `json:"orderData,omitempty"`

	// game_event
	Event string `json:"event,omitempty"`

	// order
	Data json.RawMessage `json:"data,omitempty"`

	// send-to
	TargetUserID string          `json:"targetUserId,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`

	// admin panel
	Command string `json:"command,omitempty"`
	Source  string `json:"source,omitempty"`
}

type orderData struct {
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customerEmail"`
	OrderID       string          `json:"orderId"`
	Summary       json.RawMessage `json:"summary,omitempty"`
}

type welcomeFrame struct {
	Type              string   `json:"type"`
	Message           string   `json:"message"`
	AvailableCommands []string `json:"availableCommands"`
}

type gameStatusFrame struct {
	Type        string `json:"type"`
	Status      string `json:"status"`
	LastUpdated string `json:"lastUpdated"`
	UpdatedBy   string `json:"updatedBy"`
}

type registerResponseFrame struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type registerExpectedInvoiceResponseFrame struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	InvoiceNumber string `json:"invoiceNumber"`
	PlayerID      string `json:"playerId"`
	Message       string `json:"message"`
}

type invoiceReadyFrame struct {
	Type          string `json:"type"`
	InvoiceNumber string `json:"invoiceNumber"`
	Filename      string `json:"filename"`
	FileSize      int64  `json:"fileSize"`
	ProcessedAt   string `json:"processedAt"`
	Message       string `json:"message"`
}

type s3MetadataPayload struct {
	S3Key          string `json:"s3Key"`
	S3Size         int64  `json:"s3Size"`
	S3LastModified string `json:"s3LastModified"`
}

type invoicePDFFrame struct {
	Type          string            `json:"type"`
	Status        string            `json:"status"`
	InvoiceNumber string            `json:"invoiceNumber"`
	Filename      string            `json:"filename"`
	MimeType      string            `json:"mimeType"`
	Base64Data    string            `json:"base64Data"`
	FileSize      int64             `json:"fileSize"`
	ProcessedAt   string            `json:"processedAt"`
	S3Metadata    s3MetadataPayload `json:"s3Metadata"`
	Summary       json.RawMessage   `json:"summary,omitempty"`
}

type invoiceResponseFrame struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	InvoiceNumber string `json:"invoiceNumber"`
	Message       string `json:"message"`
}

type directMessageFrame struct {
	Type       string          `json:"type"`
	FromUserID string          `json:"fromUserId"`
	Message    json.RawMessage `json:"message"`
}

type sendResponseFrame struct {
	Type         string `json:"type"`
	Status       string `json:"status"`
	TargetUserID string `json:"targetUserId"`
	Message      string `json:"message"`
}
