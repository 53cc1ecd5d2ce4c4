package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/harvestloop/harvestloop/internal/apperrors"
)

// SMTPConfig configures the email notifier. When the OAuth fields are set the
// notifier authenticates with XOAUTH2 using a refreshed Gmail access token,
// otherwise with PLAIN username/password.
type SMTPConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	From         string
	FromName     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
	Timeout      time.Duration
}

// EmailNotifier delivers messages over SMTP with STARTTLS.
type EmailNotifier struct {
	cfg    SMTPConfig
	tokens oauth2.TokenSource
}

// NewEmailNotifier builds an SMTP notifier. The OAuth2 token source caches
// access tokens until they expire.
func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	n := &EmailNotifier{cfg: cfg}
	if cfg.ClientID != "" && cfg.RefreshToken != "" {
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		}
		n.tokens = oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.RefreshToken})
	}
	return n
}

// Send delivers the message to its destination address.
func (n *EmailNotifier) Send(ctx context.Context, message Message) error {
	auth, err := n.auth()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransportFailure, "Email provider authorization failed", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(n.cfg.Host, n.cfg.Port)
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransportFailure, "Email provider unreachable", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return apperrors.Wrap(apperrors.ErrTransportFailure, "Email provider unreachable", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return apperrors.Wrap(apperrors.ErrTransportFailure, "Email provider TLS failed", err)
		}
	}
	if err := client.Auth(auth); err != nil {
		return apperrors.Wrap(apperrors.ErrTransportFailure, "Email provider rejected credentials", err)
	}
	if err := client.Mail(n.cfg.From); err != nil {
		return apperrors.Wrap(apperrors.ErrTransportFailure, "Email sender rejected", err)
	}
	if err := client.Rcpt(message.Destination); err != nil {
		return apperrors.Wrap(apperrors.ErrTransportFailure, "Email recipient rejected", err)
	}
	w, err := client.Data()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransportFailure, "Email provider refused data", err)
	}
	if _, err := w.Write(n.buildMessage(message)); err != nil {
		return apperrors.Wrap(apperrors.ErrTransportFailure, "Email write failed", err)
	}
	if err := w.Close(); err != nil {
		return apperrors.Wrap(apperrors.ErrTransportFailure, "Email write failed", err)
	}
	return client.Quit()
}

func (n *EmailNotifier) auth() (smtp.Auth, error) {
	if n.tokens == nil {
		return smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host), nil
	}
	tok, err := n.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh gmail access token: %w", err)
	}
	return &xoauth2Auth{username: n.cfg.Username, token: tok.AccessToken}, nil
}

func (n *EmailNotifier) buildMessage(message Message) []byte {
	var buf bytes.Buffer
	from := n.cfg.From
	if n.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", n.cfg.FromName), n.cfg.From)
	}
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", message.Destination)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", message.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	if message.HTML != "" {
		buf.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
		buf.WriteString(normalizeCRLF(message.HTML))
	} else {
		buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
		buf.WriteString(normalizeCRLF(message.Body))
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func normalizeCRLF(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

// xoauth2Auth implements the SASL XOAUTH2 mechanism used by Gmail SMTP.
type xoauth2Auth struct {
	username string
	token    string
}

func (a *xoauth2Auth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "XOAUTH2", []byte("user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01"), nil
}

func (a *xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		// The server sends a JSON error challenge; an empty reply ends the exchange.
		return nil, fmt.Errorf("xoauth2 rejected: %s", fromServer)
	}
	return nil, nil
}
