package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/pkg/httpretry"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

// TwilioProvider posts to a Twilio-compatible Messages endpoint:
// POST {base}/Accounts/{sid}/Messages.json with form fields To, From, Body.
type TwilioProvider struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     httpretry.HTTPDoer
}

// NewTwilioProvider wraps client (nil for the default) in a RetryClient
// with three retries unless it already is one.
func NewTwilioProvider(accountSID, authToken, from, baseURL string, client httpretry.HTTPDoer) *TwilioProvider {
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}
	if _, ok := client.(*httpretry.RetryClient); !ok {
		client = httpretry.NewRetryClient(client, 3)
	}
	return &TwilioProvider{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
	}
}

type twilioResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"`
}

func (p *TwilioProvider) SendSMS(ctx context.Context, msg *domain.SMSMessage) (*domain.ProviderOutcome, error) {
	if p.accountSID == "" || p.authToken == "" {
		return nil, ErrProviderNotConfigured
	}

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", p.from)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", p.baseURL, url.PathEscape(p.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var r twilioResponse
	_ = json.Unmarshal(body, &r)

	if resp.StatusCode >= 400 {
		detail := r.Message
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		logger.Warn("[SMS] provider rejected", "phone", msg.To, "status", resp.StatusCode)
		return &domain.ProviderOutcome{Provider: "twilio", Err: fmt.Errorf("twilio error %d: %s", resp.StatusCode, detail)}, nil
	}

	switch r.Status {
	case "failed", "undelivered":
		return &domain.ProviderOutcome{Provider: "twilio", MessageID: r.SID,
			Err: fmt.Errorf("message %s: %s", r.Status, r.ErrorMessage)}, nil
	}

	logger.Info("[SMS] sent", "phone", msg.To, "message_id", r.SID, "status", r.Status)
	return &domain.ProviderOutcome{
		Accepted:  true,
		Delivered: r.Status == "delivered",
		MessageID: r.SID,
		Provider:  "twilio",
	}, nil
}
