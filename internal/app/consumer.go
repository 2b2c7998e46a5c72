package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shako/savings-service/internal/domain"
	"github.com/shako/savings-service/internal/store"
)

// SupportResolutionEvent is the payload published by the support desk when a ticket
// opened for a withdrawal dispute is closed.
type SupportResolutionEvent struct {
	TicketID    string `json:"ticket_id"`
	ReferenceID string `json:"reference_id"` // the group withdrawal request id
	Resolution  string `json:"resolution"`
	Comment     string `json:"comment"`
}

// SupportResolutionConsumer applies support ticket resolutions to open disputes.
type SupportResolutionConsumer struct {
	service *Service
}

func NewSupportResolutionConsumer(service *Service) *SupportResolutionConsumer {
	return &SupportResolutionConsumer{service: service}
}

// HandleMessage processes one ticket.resolved message. Returning false nacks the message
// for redelivery; malformed payloads are acknowledged since redelivery cannot fix them.
func (c *SupportResolutionConsumer) HandleMessage(body []byte) bool {
	var event SupportResolutionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("support-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	requestID, err := uuid.Parse(strings.TrimSpace(event.ReferenceID))
	if err != nil {
		log.Printf("support-consumer: invalid reference id %q in event for ticket %s", event.ReferenceID, event.TicketID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, requestID, event); err != nil {
		log.Printf("support-consumer: processing error for request %s: %v", requestID, err)
		return false
	}

	return true
}

func (c *SupportResolutionConsumer) processEvent(ctx context.Context, requestID uuid.UUID, event SupportResolutionEvent) error {
	comment := strings.TrimSpace(event.Comment)
	if comment == "" {
		comment = strings.TrimSpace(event.Resolution)
	}

	if _, err := c.service.ResolveDispute(ctx, requestID, comment); err != nil {
		// A request without an open dispute is stale or duplicated delivery; acknowledge.
		if errors.Is(err, store.ErrGroupWithdrawalNotFound) {
			log.Printf("support-consumer: no group withdrawal found for ticket %s; acknowledging", event.TicketID)
			return nil
		}
		if errors.Is(err, domain.ErrDisputeNotOpen) {
			log.Printf("support-consumer: dispute already resolved for request %s; acknowledging", requestID)
			return nil
		}
		return fmt.Errorf("resolve dispute: %w", err)
	}
	return nil
}
