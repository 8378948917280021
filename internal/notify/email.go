package notify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"

	"firewatch/internal/config"
)

// Mailer sends alert emails with image attachments over SMTP.
type Mailer struct {
	host     string
	port     int
	from     string
	password string
	to       []string
}

func NewMailer(cfg config.EmailConfig) *Mailer {
	return &Mailer{
		host:     cfg.Host,
		port:     cfg.Port,
		from:     cfg.From,
		password: cfg.Password,
		to:       cfg.To,
	}
}

func (m *Mailer) Send(subject, body string, attachments []string) error {
	msg, err := buildMessage(m.from, m.to, subject, body, attachments)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	auth := smtp.PlainAuth("", m.from, m.password, m.host)
	if err := smtp.SendMail(addr, auth, m.from, m.to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func readAttachment(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return data, nil
}

const mimeBoundary = "firewatch-alert-boundary"

func buildMessage(from string, to []string, subject, body string, attachments []string) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mimeBoundary)

	fmt.Fprintf(&buf, "--%s\r\n", mimeBoundary)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n")

	for _, path := range attachments {
		data, err := readAttachment(path)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(path)
		fmt.Fprintf(&buf, "--%s\r\n", mimeBoundary)
		buf.WriteString("Content-Type: image/jpeg\r\n")
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", name)
		writeBase64(&buf, data)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", mimeBoundary)
	return buf.Bytes(), nil
}

// base64 lines wrapped at 76 chars per RFC 2045
func writeBase64(buf *bytes.Buffer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
}
