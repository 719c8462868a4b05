// Package messenger implements one-way fire-and-forget delivery between
// agents (spec.md §4.5): validate endpoints, persist the message, dispatch
// the one_way handler detached, and push a notification to recipients that
// aren't currently locked inside a conversation.
package messenger

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/handler"
	"github.com/agentmesh/coordinator/pkg/models"
	"github.com/agentmesh/coordinator/pkg/store"
	"github.com/google/uuid"
)

// Messenger sends one-way messages. It holds no mutable state of its own —
// everything it needs lives in the store and the handler registry.
type Messenger struct {
	store    *store.Store
	handlers *handler.Registry
}

// New builds a Messenger.
func New(s *store.Store, h *handler.Registry) *Messenger {
	return &Messenger{store: s, handlers: h}
}

// Send validates sender and recipients, persists one message per recipient,
// dispatches the one_way handler detached for each, and pushes a
// notification to recipients that aren't currently locked in a conversation
// (spec.md §4.5). Returns the persisted message ids in recipient order.
func (m *Messenger) Send(ctx context.Context, senderExternalID string, recipientExternalIDs []string, content, metadata map[string]any) ([]uuid.UUID, error) {
	if !m.handlers.Registered(handler.KindOneWay) {
		// Fail before persisting so senders get synchronous feedback
		// (spec.md §4.5 step 4).
		return nil, errs.ErrNoHandlerRegistered
	}

	sender, err := m.resolveAgent(ctx, senderExternalID, "sender_external_id")
	if err != nil {
		return nil, err
	}
	if len(recipientExternalIDs) == 0 {
		return nil, errs.NewValidationError("recipient_external_ids", recipientExternalIDs, "at least one recipient required")
	}

	recipients := make([]*models.Agent, 0, len(recipientExternalIDs))
	for _, ext := range recipientExternalIDs {
		recipient, err := m.resolveAgent(ctx, ext, "recipient_external_id")
		if err != nil {
			return nil, err
		}
		if recipient.ID == sender.ID {
			return nil, errs.NewValidationError("recipient_external_id", ext, "cannot send to self")
		}
		recipients = append(recipients, recipient)
	}

	ids := make([]uuid.UUID, 0, len(recipients))
	for _, recipient := range recipients {
		msg, err := m.store.InsertOneWayMessage(ctx, sender.ID, recipient.ID, content, metadata)
		if err != nil {
			return nil, err
		}
		ids = append(ids, msg.ID)

		mctx := handler.Context{
			SenderExternalID:   senderExternalID,
			ReceiverExternalID: recipient.ExternalID,
			HandlerKind:        handler.KindOneWay,
			MessageID:          msg.ID,
			Metadata:           metadata,
		}
		m.handlers.InvokeDetached(ctx, handler.KindOneWay, content, mctx)

		locked, err := m.store.IsAgentLocked(ctx, recipient.ID)
		if err != nil {
			return nil, err
		}
		if !locked {
			m.handlers.InvokeDetached(ctx, handler.KindNotification, content, mctx)
		}
	}

	return ids, nil
}

func (m *Messenger) resolveAgent(ctx context.Context, externalID, field string) (*models.Agent, error) {
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return nil, errs.NewValidationError(field, externalID, "must not be empty or whitespace")
	}
	agent, err := m.store.GetAgentByExternalID(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", field, err)
	}
	return agent, nil
}
