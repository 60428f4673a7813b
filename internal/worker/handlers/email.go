package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/nadmax/taskboard/internal/queue"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendFunc func(ctx context.Context, email *mail.SGMailV3) (int, error)

type EmailSender struct {
	from   *mail.Email
	send   sendFunc
	logger *zap.Logger
}

func NewEmailSender(apiKey, fromAddress, fromName string, logger *zap.Logger) *EmailSender {
	client := sendgrid.NewSendClient(apiKey)

	return &EmailSender{
		from: mail.NewEmail(fromName, fromAddress),
		send: func(ctx context.Context, email *mail.SGMailV3) (int, error) {
			resp, err := client.SendWithContext(ctx, email)
			if err != nil {
				return 0, err
			}
			return resp.StatusCode, nil
		},
		logger: logger,
	}
}

func (s *EmailSender) SendEmailHandler(ctx context.Context, job *queue.Job) error {
	var p EmailPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	switch {
	case p.To == "":
		return errors.New("missing 'to' field")
	case p.Subject == "":
		return errors.New("missing 'subject' field")
	case p.Body == "":
		return errors.New("missing 'body' field")
	}

	email := mail.NewSingleEmail(s.from, p.Subject, mail.NewEmail("", p.To), p.Body, p.Body)
	status, err := s.send(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("sendgrid error: status %d", status)
	}

	s.logger.Info("email sent", zap.String("job_id", job.ID), zap.String("to", p.To), zap.Int("status", status))
	return nil
}
