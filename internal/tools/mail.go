// ABOUTME: Mailbox tools backed by the memory store.
// ABOUTME: Lets the model send, search, and read messages during a turn.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parley-sh/parley-gateway/internal/memory"
)

// MailTools returns the mailbox tool set backed by the given store.
func MailTools(s *memory.Store) []*Tool {
	m := &mailHandlers{store: s}
	return []*Tool{
		{
			Definition: Definition{
				Name:        "mail_send",
				Description: "Send a message to a recipient's mailbox",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"recipient":{"type":"string"},"subject":{"type":"string"},"body":{"type":"string"}},"required":["recipient","subject","body"]}`),
			},
			Handler: m.Send,
		},
		{
			Definition: Definition{
				Name:        "mail_search",
				Description: "Search mailbox messages by subject or body text",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"unread_only":{"type":"boolean"},"limit":{"type":"integer"}},"required":["query"]}`),
			},
			Handler: m.Search,
		},
		{
			Definition: Definition{
				Name:        "mail_read",
				Description: "Read a message and mark it as read",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"message_id":{"type":"string"}},"required":["message_id"]}`),
			},
			Handler: m.Read,
		},
	}
}

type mailHandlers struct {
	store *memory.Store
}

type mailSendInput struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

func (m *mailHandlers) Send(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in mailSendInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Recipient == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	if in.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if in.Body == "" {
		return nil, fmt.Errorf("body is required")
	}

	mail := &memory.Mail{
		Sender:    "assistant",
		Recipient: in.Recipient,
		Subject:   in.Subject,
		Body:      in.Body,
	}
	if err := m.store.SaveMail(ctx, mail); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"id": mail.ID, "status": "sent"})
}

type mailSearchInput struct {
	Query      string `json:"query"`
	UnreadOnly bool   `json:"unread_only"`
	Limit      int    `json:"limit"`
}

func (m *mailHandlers) Search(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in mailSearchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	results, err := m.store.SearchMail(ctx, in.Query, in.UnreadOnly, in.Limit)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"messages": results, "count": len(results)})
}

type mailReadInput struct {
	MessageID string `json:"message_id"`
}

func (m *mailHandlers) Read(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in mailReadInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.MessageID == "" {
		return nil, fmt.Errorf("message_id is required")
	}

	mail, err := m.store.GetMail(ctx, in.MessageID)
	if err != nil {
		return nil, err
	}
	if err := m.store.MarkMailRead(ctx, mail.ID); err != nil {
		return nil, err
	}
	mail.Read = true
	return json.Marshal(mail)
}
