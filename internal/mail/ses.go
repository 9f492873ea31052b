package mail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/quotient/followup-engine/internal/pkg/logger"
)

// SESSender sends email via AWS SES using the SDK v2.
type SESSender struct {
	client *sesv2.Client
	region string
}

// NewSESSender builds an SES sender from static credentials. Region defaults
// to us-east-1 when empty.
func NewSESSender(accessKey, secretKey, region string) (*SESSender, error) {
	if region == "" {
		region = "us-east-1"
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("ses: access key and secret key are required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}

	return &SESSender{client: sesv2.NewFromConfig(cfg), region: region}, nil
}

// Send delivers one message through SES. Provider rejections that no retry
// can fix (bad address, suspended account) come back as PermanentError.
func (s *SESSender) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	to := msg.ToEmail
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", msg.ToName, msg.ToEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.BodyHTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("job_id"), Value: aws.String(msg.JobID)},
		},
	}
	if msg.BodyText != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.BodyText), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		log.Printf("[SES] Send to %s failed: %v", logger.RedactEmail(msg.ToEmail), err)
		return nil, classifySESError(err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[SES] Sent to %s (id: %s)", logger.RedactEmail(msg.ToEmail), messageID)

	return &SendResult{ProviderID: messageID, SentAt: time.Now()}, nil
}

func classifySESError(err error) error {
	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return &PermanentError{Reason: "message rejected", Err: err}
	}
	var badReq *types.BadRequestException
	if errors.As(err, &badReq) {
		return &PermanentError{Reason: "bad request", Err: err}
	}
	var suspended *types.AccountSuspendedException
	if errors.As(err, &suspended) {
		return &PermanentError{Reason: "account suspended", Err: err}
	}
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return &PermanentError{Reason: "resource not found", Err: err}
	}
	// Throttling, paused sending and network failures are retryable.
	return err
}
