package relay

import (
	"context"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/mikey/phish-gateway/internal/config"
	"go.uber.org/zap"
)

// SendEmailAPI is the subset of the SES v2 client used by the relay
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

var tagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SESRelay forwards messages through Amazon SES as raw MIME
type SESRelay struct {
	client           SendEmailAPI
	configurationSet string
	logger           *zap.Logger
}

// NewSESRelay creates a new SES relay
func NewSESRelay(client SendEmailAPI, cfg config.SESConfig, logger *zap.Logger) *SESRelay {
	return &SESRelay{
		client:           client,
		configurationSet: cfg.ConfigurationSet,
		logger:           logger,
	}
}

// Forward implements core.Relay. Metadata is attached as message tags.
func (r *SESRelay) Forward(ctx context.Context, raw []byte, sender string, recipients []string, metadata map[string]string) bool {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination:      &types.Destination{ToAddresses: recipients},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}
	if r.configurationSet != "" {
		input.ConfigurationSetName = aws.String(r.configurationSet)
	}
	for k, v := range metadata {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name:  aws.String(tagUnsafe.ReplaceAllString(k, "_")),
			Value: aws.String(tagUnsafe.ReplaceAllString(v, "_")),
		})
	}

	out, err := r.client.SendEmail(ctx, input)
	if err != nil {
		r.logger.Error("Failed to relay message through SES",
			zap.String("sender", sender),
			zap.Strings("recipients", recipients),
			zap.Error(err))
		return false
	}

	r.logger.Debug("Message relayed through SES", zap.String("message_id", aws.ToString(out.MessageId)))
	return true
}
