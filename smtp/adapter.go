package smtp

import (
	"context"
	"strings"

	"github.com/campbell-alarms/engine/alarms"
	"github.com/campbell-alarms/engine/internal/clock"
	"github.com/campbell-alarms/engine/internal/logging"
)

// EmailSender adapts a Sender and GatewayClient to the alarms.EmailSender
// interface, choosing between them per EmailProfile.UseGateway (spec
// §4.6).
type EmailSender struct {
	direct  *Sender
	gateway *GatewayClient
}

// NewEmailSender constructs an EmailSender backed by both the direct
// SMTP path and the HTTP gateway fallback.
func NewEmailSender(cfg Config, gatewayCfg GatewayConfig, c clock.Clock, logger *logging.Logger) *EmailSender {
	return &EmailSender{
		direct:  NewSender(cfg, c, logger),
		gateway: NewGatewayClient(gatewayCfg, logger),
	}
}

// SendEmail implements alarms.EmailSender, translating an
// alarms.EmailMessage (addressed through an EmailProfile) into a
// smtp.Message and dispatching it over whichever channel the profile
// selects.
func (s *EmailSender) SendEmail(msg alarms.EmailMessage, onComplete func(outcome string, err error)) {
	wire := toWireMessage(msg)
	complete := func(outcome Outcome, err error) { onComplete(outcome.String(), err) }

	if msg.Profile.UseGateway {
		s.gateway.Send(context.Background(), wire, complete)
		return
	}
	s.direct.Send(context.Background(), wire, complete)
}

func toWireMessage(msg alarms.EmailMessage) Message {
	profile := msg.Profile
	wire := Message{
		ServerAddress: profile.SmtpServer,
		UserName:      profile.SmtpUser,
		Password:      profile.SmtpPassword,
		UseGateway:    profile.UseGateway,
		GatewayURL:    profile.GatewayURL,
		From:          profile.From,
		To:            splitRecipients(profile.To),
		Cc:            splitRecipients(profile.Cc),
		Bcc:           splitRecipients(profile.Bcc),
		ReplyTo:       profile.ReplyTo,
		Subject:       msg.Subject,
		Body:          msg.Body,
	}
	for _, att := range msg.Attachments {
		wire.Attachments = append(wire.Attachments, Attachment{
			FileName:    att.Name,
			ContentType: att.ContentType,
			Content:     att.Content,
			Path:        att.Path,
		})
	}
	return wire
}

func splitRecipients(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
