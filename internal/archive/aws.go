package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

// S3API is the subset of *s3.Client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// DynamoAPI is the subset of *dynamodb.Client the archive uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// IndexItem is the DynamoDB row pointing at an archived execution. TTL lets
// DynamoDB expire the index; the S3 object follows the bucket's lifecycle
// rules.
type IndexItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	LeadID     string `dynamodbav:"LeadID"`
	CampaignID string `dynamodbav:"CampaignID"`
	Status     string `dynamodbav:"Status"`
	Reason     string `dynamodbav:"Reason,omitempty"`
	S3Key      string `dynamodbav:"S3Key"`
	Steps      int    `dynamodbav:"Steps"`
	Timestamp  string `dynamodbav:"Timestamp"`
	TTL        int64  `dynamodbav:"TTL,omitempty"`
}

// AWSArchive stores the full execution JSON in S3 and indexes it in
// DynamoDB by campaign.
type AWSArchive struct {
	s3       S3API
	dynamoDB DynamoAPI
	bucket   string
	table    string
	ttl      time.Duration
	now      func() time.Time
}

// NewAWSArchive loads the default credential chain, optionally pinned to a
// shared-config profile.
func NewAWSArchive(ctx context.Context, bucket, table, region, profile string, ttl time.Duration) (*AWSArchive, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewAWSArchiveWithClients(s3.NewFromConfig(cfg), dynamodb.NewFromConfig(cfg), bucket, table, ttl), nil
}

func NewAWSArchiveWithClients(s3Client S3API, dynamo DynamoAPI, bucket, table string, ttl time.Duration) *AWSArchive {
	return &AWSArchive{
		s3:       s3Client,
		dynamoDB: dynamo,
		bucket:   bucket,
		table:    table,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (a *AWSArchive) Archive(ctx context.Context, execs []*domain.Execution) error {
	for _, e := range execs {
		key := a.Key(e)
		if err := a.putObject(ctx, key, e); err != nil {
			return err
		}
		if err := a.putIndex(ctx, key, e); err != nil {
			return err
		}
	}
	logger.Info("[Archive] archived executions", "count", len(execs), "bucket", a.bucket)
	return nil
}

// Key is the S3 object key for e.
func (a *AWSArchive) Key(e *domain.Execution) string {
	return fmt.Sprintf("executions/%s/%s.json", datePath(e), e.ID)
}

func (a *AWSArchive) putObject(ctx context.Context, key string, e *domain.Execution) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling execution %s: %w", e.ID, err)
	}
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}

func (a *AWSArchive) putIndex(ctx context.Context, key string, e *domain.Execution) error {
	now := a.now().UTC()
	ts := e.UpdatedAt
	if e.TerminalAt != nil {
		ts = *e.TerminalAt
	}
	item := IndexItem{
		PK:         "CAMPAIGN#" + e.CampaignID,
		SK:         ts.UTC().Format(time.RFC3339) + "#" + e.ID,
		LeadID:     e.LeadID,
		CampaignID: e.CampaignID,
		Status:     string(e.Status),
		Reason:     e.HandoverReason,
		S3Key:      key,
		Steps:      e.CurrentStepIndex,
		Timestamp:  now.Format(time.RFC3339),
	}
	if a.ttl > 0 {
		item.TTL = now.Add(a.ttl).Unix()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = a.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}
	return nil
}
