package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/jobqueue"
	"github.com/viajamx/marketplace/internal/pkg/mail"
)

var subjects = map[string]string{
	models.NotificationPaymentSucceeded: "Pago recibido",
	models.NotificationPaymentFailed:    "No pudimos procesar tu pago",
	models.NotificationRenewalReminder:  "Tu suscripción se renueva pronto",
}

var bodies = template.Must(template.New("notification").Parse(`
{{define "payment_succeeded"}}<p>Hola {{.Name}},</p><p>Recibimos tu pago de {{index .Data "amount"}} {{index .Data "currency"}}. ¡Gracias!</p>{{end}}
{{define "payment_failed"}}<p>Hola {{.Name}},</p><p>Tu pago de {{index .Data "amount"}} {{index .Data "currency"}} fue rechazado: {{index .Data "reason"}}.</p><p>Actualiza tu método de pago para conservar tu plan.</p>{{end}}
{{define "renewal_reminder"}}<p>Hola {{.Name}},</p><p>Tu plan {{index .Data "plan_type"}} se renueva el {{index .Data "renews_at"}} por {{index .Data "amount"}} {{index .Data "currency"}}.</p>{{end}}
`))

// Register binds the delivery processor to the queue.
func Register(q *jobqueue.Queue, db *gorm.DB, send mail.Sender) {
	q.RegisterProcessor(jobqueue.JobTypeSendNotification, NewProcessor(db, send))
}

// NewProcessor returns the job processor that emails a stored notification.
// Notifications already sent are skipped, so a retried job never mails twice.
func NewProcessor(db *gorm.DB, send mail.Sender) jobqueue.Processor {
	return func(ctx context.Context, job *jobqueue.Job) error {
		payload, err := jobqueue.NotificationJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}

		var n models.Notification
		if err := db.WithContext(ctx).First(&n, payload.NotificationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warnf("[Notification] Notification %d vanished, dropping job %s", payload.NotificationID, job.ID)
				return nil
			}
			return err
		}
		if n.SentAt != nil {
			return nil
		}

		var user models.User
		if err := db.WithContext(ctx).First(&user, n.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warnf("[Notification] User %d not found for notification %d", n.UserID, n.ID)
				return nil
			}
			return err
		}

		subject, body, err := render(&n, &user)
		if err != nil {
			return err
		}
		if err := send(user.Email, subject, body); err != nil {
			return fmt.Errorf("send %s to user=%d: %w", n.Type, user.ID, err)
		}
		return n.MarkAsSent(db.WithContext(ctx), time.Now().UTC())
	}
}

func render(n *models.Notification, user *models.User) (string, string, error) {
	subject, ok := subjects[n.Type]
	if !ok {
		return "", "", fmt.Errorf("unknown notification type %q", n.Type)
	}
	var buf bytes.Buffer
	err := bodies.ExecuteTemplate(&buf, n.Type, map[string]interface{}{
		"Name": user.Name,
		"Data": map[string]interface{}(n.Data),
	})
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", n.Type, err)
	}
	return subject, buf.String(), nil
}
