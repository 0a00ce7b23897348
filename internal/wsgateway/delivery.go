package wsgateway

import (
	"fmt"
	"log"
	"strings"

	"github.com/ashgrovegames/invoicecore/internal/invoicestore"
	"github.com/ashgrovegames/invoicecore/internal/registry"
)

// DeliverInvoice is the polling engine's delivery callback. It announces
// a processed invoice to the player's live session and reports whether a
// session received the frame. No retry happens here: an offline player
// retrieves the invoice on request after reconnecting.
func (g *Gateway) DeliverInvoice(rec invoicestore.Record, entry registry.Entry) bool {
	// The registration is about to be consumed; keep its summary so a
	// later request_invoice can still attach it.
	g.rememberSummary(rec.InvoiceNumber, entry.Summary)

	playerID := strings.TrimSpace(rec.PlayerID)
	if playerID == "" {
		playerID = strings.TrimSpace(entry.PlayerID)
	}
	if playerID == "" {
		log.Printf("invoice %q has no player binding; skipping notification", rec.InvoiceNumber)
		return false
	}

	sess, ok := g.hub.sessionOf(playerID)
	if !ok {
		log.Printf("no live session for player %q; invoice %q stays retrievable on demand", playerID, rec.InvoiceNumber)
		return false
	}

	err := sess.send(invoiceReadyFrame{
		Type:          "invoice_ready",
		InvoiceNumber: rec.InvoiceNumber,
		Filename:      rec.Filename,
		FileSize:      rec.FileSize,
		ProcessedAt:   rec.ProcessedAt,
		Message:       fmt.Sprintf("Invoice %s is ready", rec.InvoiceNumber),
	})
	if err != nil {
		log.Printf("send invoice_ready for %q to %q: %v", rec.InvoiceNumber, playerID, err)
		return false
	}
	return true
}
