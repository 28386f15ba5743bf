package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

// SESAPI is the slice of *sesv2.Client the provider uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESProvider sends campaign email through AWS SES v2.
type SESProvider struct {
	client           SESAPI
	configurationSet string
}

// NewSESProvider builds an SES client. Static credentials are used when both
// keys are set; otherwise the default AWS credential chain applies.
func NewSESProvider(ctx context.Context, region, accessKey, secretKey, configurationSet string) (*SESProvider, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSESProviderWithClient(sesv2.NewFromConfig(cfg), configurationSet), nil
}

func NewSESProviderWithClient(client SESAPI, configurationSet string) *SESProvider {
	return &SESProvider{client: client, configurationSet: configurationSet}
}

func (p *SESProvider) SendEmail(ctx context.Context, msg *domain.EmailMessage) (*domain.ProviderOutcome, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("lead_id"), Value: aws.String(tagValue(msg.LeadID))},
			{Name: aws.String("campaign_id"), Value: aws.String(tagValue(msg.CampaignID))},
		},
	}
	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if p.configurationSet != "" {
		input.ConfigurationSetName = aws.String(p.configurationSet)
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		logger.Warn("[SES] send failed", "email", msg.To, "error", err)
		return &domain.ProviderOutcome{Provider: "ses", Err: err}, nil
	}

	logger.Info("[SES] sent", "email", msg.To, "message_id", aws.ToString(out.MessageId))
	return &domain.ProviderOutcome{
		Accepted:  true,
		MessageID: aws.ToString(out.MessageId),
		Provider:  "ses",
	}, nil
}

// SES tag values may not be empty.
func tagValue(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
