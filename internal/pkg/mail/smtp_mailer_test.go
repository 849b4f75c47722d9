package mail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/viajamx/marketplace/internal/pkg/env"
)

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("billing@viaja.mx", "ana@example.com", "Pago recibido\r\nBcc: evil@example.com", "<p>ok</p>"))

	assert.True(t, strings.HasPrefix(msg, "From: billing@viaja.mx\r\nTo: ana@example.com\r\n"))
	assert.Contains(t, msg, "Subject: Pago recibidoBcc: evil@example.com\r\n")
	assert.NotContains(t, msg, "\r\nBcc:")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\n<p>ok</p>"))
}

func TestSendMailRequiresHost(t *testing.T) {
	prev := env.Env
	env.Env = map[string]string{"SMTP_HOST": "", "SMTP_SENDER": "billing@viaja.mx"}
	t.Cleanup(func() { env.Env = prev })

	err := SendMail("ana@example.com", "hola", "body")
	assert.ErrorContains(t, err, "SMTP_HOST")
}
