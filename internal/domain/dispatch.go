package domain

import "time"

// DispatchStatus is the outcome of handing one step to a channel.
type DispatchStatus string

const (
	DispatchSent      DispatchStatus = "sent"
	DispatchDelivered DispatchStatus = "delivered"
	DispatchFailed    DispatchStatus = "failed"
	// DispatchNoConnection means the chat lead had no live connection. It is
	// a normal outcome, not a failure.
	DispatchNoConnection DispatchStatus = "no_connection"
)

// DispatchResult records a single send attempt in an execution's history.
type DispatchResult struct {
	ID                string         `json:"id"`
	Channel           Channel        `json:"channel"`
	Status            DispatchStatus `json:"status"`
	Timestamp         time.Time      `json:"timestamp"`
	StepOrder         int            `json:"step_order,omitempty"`
	Attempt           int            `json:"attempt,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// Reached reports whether the message reached the provider or the lead.
func (r DispatchResult) Reached() bool {
	return r.Status == DispatchSent || r.Status == DispatchDelivered
}

// RenderedStep is a step with lead placeholders already substituted. It is
// what the dispatch adapters receive.
type RenderedStep struct {
	Step
	Content string `json:"content"`
	Subject string `json:"subject,omitempty"`
}

// EmailMessage is the fully-resolved message handed to an email provider.
type EmailMessage struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaign_id"`
	LeadID      string            `json:"lead_id"`
	To          string            `json:"to"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// SMSMessage is the fully-resolved message handed to an SMS provider.
type SMSMessage struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	LeadID     string `json:"lead_id"`
	To         string `json:"to"`
	Body       string `json:"body"`
}

// ProviderOutcome is what an email or SMS provider reports back. Accepted
// means the provider took the message; Delivered is set when the provider
// confirms delivery synchronously.
type ProviderOutcome struct {
	Accepted  bool
	Delivered bool
	MessageID string
	Provider  string
	Err       error
}
