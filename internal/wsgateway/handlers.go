package wsgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	apperrors "github.com/ashgrovegames/invoicecore/internal/platform/errors"
	"github.com/ashgrovegames/invoicecore/internal/registry"
)

// dispatch routes one inbound frame. Malformed JSON is dropped silently;
// the client is buggy and gets nothing to retry on. Before a session
// registers, only register frames are honoured.
func (g *Gateway) dispatch(ctx context.Context, sess *session, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}

	kind := frame.Type
	if kind == "" && frame.Source == "admin-panel" && frame.Command != "" {
		kind = "command"
	}

	if _, registered := g.hub.playerOf(sess); !registered && kind != "register" {
		return
	}

	switch kind {
	case "register":
		g.handleRegister(sess, frame)
	case "register_expected_invoice":
		g.handleRegisterExpectedInvoice(sess, frame)
	case "request_invoice":
		g.handleRequestInvoice(sess, frame)
	case "game_event":
		g.handleGameEvent(ctx, sess, frame, raw)
	case "order":
		g.handleOrder(ctx, sess, frame)
	case "send-to":
		g.handleSendTo(sess, frame)
	case "command":
		g.handleAdminCommand(frame)
	default:
		// Unknown kinds are ignored.
	}
}

func (g *Gateway) handleRegister(sess *session, frame inboundFrame) {
	userID := strings.TrimSpace(frame.UserID)
	if userID == "" {
		validationErr := apperrors.WithMetadata(apperrors.CodeValidationMissingField,
			"register frame missing userId", map[string]string{"field": "userId"})
		_ = sess.send(registerResponseFrame{
			Type:    "register_response",
			Status:  "error",
			Message: validationErr.LocalizedMessage(g.cfg.Locale),
		})
		return
	}

	g.hub.register(userID, sess)
	_ = sess.send(registerResponseFrame{
		Type:    "register_response",
		Status:  "success",
		UserID:  userID,
		Message: fmt.Sprintf("Registered as %s", userID),
	})
	_ = sess.send(g.statusFrame())
}

func (g *Gateway) handleRegisterExpectedInvoice(sess *session, frame inboundFrame) {
	invoiceNumber := strings.TrimSpace(frame.InvoiceNumber)
	playerID := strings.TrimSpace(frame.PlayerID)
	if playerID == "" {
		playerID = strings.TrimSpace(frame.UserID)
	}

	if invoiceNumber == "" || playerID == "" {
		field := "invoiceNumber"
		if invoiceNumber != "" {
			field = "playerId"
		}
		validationErr := apperrors.WithMetadata(apperrors.CodeValidationMissingField,
			"register_expected_invoice frame incomplete", map[string]string{"field": field})
		_ = sess.send(registerExpectedInvoiceResponseFrame{
			Type:          "register_expected_invoice_response",
			Status:        "error",
			InvoiceNumber: invoiceNumber,
			PlayerID:      playerID,
			Message:       validationErr.LocalizedMessage(g.cfg.Locale),
		})
		return
	}

	entry := registry.Entry{
		InvoiceNumber: invoiceNumber,
		PlayerID:      playerID,
	}
	if frame.OrderData != nil {
		entry.CustomerName = frame.OrderData.CustomerName
		entry.CustomerEmail = frame.OrderData.CustomerEmail
		entry.OrderID = frame.OrderData.OrderID
		entry.Summary = frame.OrderData.Summary
	}
	g.registry.Register(entry)

	_ = sess.send(registerExpectedInvoiceResponseFrame{
		Type:          "register_expected_invoice_response",
		Status:        "success",
		InvoiceNumber: invoiceNumber,
		PlayerID:      playerID,
		Message:       fmt.Sprintf("Expecting invoice %s for %s", invoiceNumber, playerID),
	})
}

func (g *Gateway) handleRequestInvoice(sess *session, frame inboundFrame) {
	invoiceNumber := strings.TrimSpace(frame.InvoiceNumber)
	playerID, _ := g.hub.playerOf(sess)

	if invoiceNumber == "" {
		validationErr := apperrors.WithMetadata(apperrors.CodeValidationMissingField,
			"request_invoice frame missing invoiceNumber", map[string]string{"field": "invoiceNumber"})
		_ = sess.send(invoiceResponseFrame{
			Type:    "invoice_response",
			Status:  "error",
			Message: validationErr.LocalizedMessage(g.cfg.Locale),
		})
		return
	}

	rec, err := g.invoices.Get(invoiceNumber)
	if err != nil {
		notFound := apperrors.WithMetadata(apperrors.CodeInvoiceNotFound,
			fmt.Sprintf("invoice %q not retrievable", invoiceNumber),
			map[string]string{"invoiceNumber": invoiceNumber})
		_ = sess.send(notFound.ToFrame("invoice_response", g.cfg.Locale))
		return
	}

	_ = sess.send(invoicePDFFrame{
		Type:          "invoice_pdf",
		Status:        "success",
		InvoiceNumber: invoiceNumber,
		Filename:      rec.Filename,
		MimeType:      "application/pdf",
		Base64Data:    rec.Base64Data,
		FileSize:      rec.FileSize,
		ProcessedAt:   rec.ProcessedAt,
		S3Metadata: s3MetadataPayload{
			S3Key:          rec.S3Metadata.S3Key,
			S3Size:         rec.S3Metadata.S3Size,
			S3LastModified: rec.S3Metadata.S3LastModified,
		},
		Summary: g.summaryFor(invoiceNumber, playerID),
	})
}

// summaryFor resolves the order summary for an invoice: the registry by
// invoice number first, then the delivered-summary cache, then the
// registry by player as a last resort.
func (g *Gateway) summaryFor(invoiceNumber, playerID string) json.RawMessage {
	if entry, ok := g.registry.Lookup(invoiceNumber); ok && len(entry.Summary) > 0 {
		return entry.Summary
	}
	if summary, ok := g.cachedSummary(invoiceNumber); ok {
		return summary
	}
	if playerID != "" {
		if entry, ok := g.registry.FindByPlayer(playerID); ok && len(entry.Summary) > 0 {
			return entry.Summary
		}
	}
	return nil
}

func (g *Gateway) handleGameEvent(ctx context.Context, sess *session, frame inboundFrame, raw []byte) {
	switch frame.Event {
	case "game_over":
		if g.sinks == nil {
			log.Printf("game_over event dropped: no sink configured")
			return
		}
		if err := g.sinks.PostGameOver(ctx, raw); err != nil {
			log.Printf("forward game_over: %v", err)
		}
	case "start", "pause", "end":
		updatedBy, _ := g.hub.playerOf(sess)
		if updatedBy == "" {
			updatedBy = "game_event"
		}
		g.hub.setStatus(frame.Event, updatedBy)
		g.broadcastStatus()
	default:
		// Unknown sub-events are ignored.
	}
}

func (g *Gateway) handleOrder(ctx context.Context, sess *session, frame inboundFrame) {
	if len(frame.Data) == 0 {
		validationErr := apperrors.WithMetadata(apperrors.CodeValidationMissingField,
			"order frame missing data", map[string]string{"field": "data"})
		_ = sess.send(map[string]any{
			"type":    "order_response",
			"status":  "error",
			"error":   string(apperrors.CodeValidationMissingField),
			"message": validationErr.LocalizedMessage(g.cfg.Locale),
		})
		return
	}
	if g.sinks == nil {
		sinkErr := apperrors.New(apperrors.CodeSinkTransport, "order sink is not configured")
		_ = sess.send(map[string]any{
			"type":    "order_response",
			"status":  "error",
			"error":   string(apperrors.CodeSinkTransport),
			"message": sinkErr.LocalizedMessage(g.cfg.Locale),
		})
		return
	}

	response, err := g.sinks.PostOrder(ctx, frame.Data)
	if err != nil {
		log.Printf("forward order: %v", err)
		sinkErr := apperrors.Wrap(apperrors.CodeSinkTransport, "order sink call failed", err)
		_ = sess.send(map[string]any{
			"type":    "order_response",
			"status":  "error",
			"error":   string(apperrors.CodeSinkTransport),
			"message": sinkErr.LocalizedMessage(g.cfg.Locale),
		})
		return
	}

	relayed := map[string]any{"type": "order_response", "status": "success"}
	for key, value := range response {
		if key == "type" {
			continue
		}
		relayed[key] = value
	}
	_ = sess.send(relayed)
}

func (g *Gateway) handleSendTo(sess *session, frame inboundFrame) {
	targetUserID := strings.TrimSpace(frame.TargetUserID)
	fromUserID, _ := g.hub.playerOf(sess)

	target, ok := g.hub.sessionOf(targetUserID)
	if !ok {
		_ = sess.send(sendResponseFrame{
			Type:         "send_response",
			Status:       "error",
			TargetUserID: targetUserID,
			Message:      fmt.Sprintf("Player %s is not connected", targetUserID),
		})
		return
	}

	if err := target.send(directMessageFrame{
		Type:       "direct_message",
		FromUserID: fromUserID,
		Message:    frame.Message,
	}); err != nil {
		_ = sess.send(sendResponseFrame{
			Type:         "send_response",
			Status:       "error",
			TargetUserID: targetUserID,
			Message:      "Delivery failed",
		})
		return
	}
	_ = sess.send(sendResponseFrame{
		Type:         "send_response",
		Status:       "success",
		TargetUserID: targetUserID,
		Message:      fmt.Sprintf("Delivered to %s", targetUserID),
	})
}

func (g *Gateway) handleAdminCommand(frame inboundFrame) {
	state := frame.Command
	if state == "new" {
		state = "start"
	}
	switch state {
	case "start", "pause", "end":
		g.hub.setStatus(state, "admin-panel")
		g.broadcastStatus()
	default:
		log.Printf("ignoring unknown admin command %q", frame.Command)
	}
}
