package handover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/pkg/httpretry"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

// Event is the payload delivered to one handover recipient.
type Event struct {
	ExecutionID       string           `json:"execution_id"`
	CampaignID        string           `json:"campaign_id"`
	LeadID            string           `json:"lead_id"`
	LeadName          string           `json:"lead_name"`
	Reason            string           `json:"reason"`
	TriggeredCriteria []string         `json:"triggered_criteria"`
	Recipient         domain.Recipient `json:"recipient"`
	// Position is the recipient's 1-based place in the rule's list.
	Position    int       `json:"position"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Notifier delivers a handover event to a single recipient.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// NotifyRecipients sends evt to each recipient in list order. A failed
// delivery does not stop the remaining recipients; all errors are joined.
func NotifyRecipients(ctx context.Context, n Notifier, evt Event, recipients []domain.Recipient) error {
	if n == nil {
		return nil
	}
	var errs []error
	for i, r := range recipients {
		e := evt
		e.Recipient = r
		e.Position = i + 1
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", r.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier only logs the event. It is the fallback when no queue or
// webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, evt Event) error {
	logger.Info("[Handover] recipient notified",
		"execution_id", evt.ExecutionID,
		"lead_id", evt.LeadID,
		"recipient", evt.Recipient.Name,
		"position", evt.Position,
		"reason", evt.Reason)
	return nil
}

// SQSAPI is the part of *sqs.Client the notifier needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier publishes each event to a queue consumed by the CRM side.
// Sends are synchronous so queue order follows recipient order.
type SQSNotifier struct {
	client   SQSAPI
	queueURL string
	timeout  time.Duration
}

func NewSQSNotifier(client SQSAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL, timeout: 5 * time.Second}
}

func (n *SQSNotifier) Notify(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal handover event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type":  {DataType: aws.String("String"), StringValue: aws.String("handover")},
			"campaign_id": {DataType: aws.String("String"), StringValue: aws.String(evt.CampaignID)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish handover to SQS: %w", err)
	}
	return nil
}

// WebhookNotifier POSTs each event as JSON.
type WebhookNotifier struct {
	client httpretry.HTTPDoer
	url    string
	secret string
}

// NewWebhookNotifier wraps client in a RetryClient. secret, when set, is
// sent as a bearer token.
func NewWebhookNotifier(client httpretry.HTTPDoer, url, secret string) *WebhookNotifier {
	return &WebhookNotifier{client: httpretry.NewRetryClient(client, 3), url: url, secret: secret}
}

func (n *WebhookNotifier) Notify(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal handover event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("Authorization", "Bearer "+n.secret)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("handover webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("handover webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	return nil
}
