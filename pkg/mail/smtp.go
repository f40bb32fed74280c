package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/email-sender/pkg/metrics"
)

const defaultSMTPTimeout = 30 * time.Second

// DeliveryClient submits a composed message to a relay.
type DeliveryClient interface {
	Deliver(ctx context.Context, msg *ComposedMessage) error
}

// SMTPConfig holds the relay connection parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// SSL forces implicit TLS. Port 465 enables it automatically.
	SSL                bool
	InsecureSkipVerify bool
	LocalName          string
	// Timeout bounds a single submission.
	// Default: 30 seconds
	Timeout time.Duration
}

// mailDialer opens a relay session bound to ctx.
type mailDialer interface {
	Dial(ctx context.Context) (gomail.SendCloser, error)
}

// SMTPClient delivers messages over one relay session per call and no
// retries of its own.
type SMTPClient struct {
	dialer  mailDialer
	host    string
	port    int
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewSMTPClient(cfg SMTPConfig, log *zap.SugaredLogger) *SMTPClient {
	log = log.Named("smtp")
	log.Infow("Initializing SMTP delivery client", "host", cfg.Host, "port", cfg.Port, "user", cfg.Username)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.SSL {
		d.SSL = true
	}
	if cfg.InsecureSkipVerify {
		log.Warnw("InsecureSkipVerify is enabled for SMTP TLS connection", "host", cfg.Host)
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: cfg.Host} //nolint:gosec // Configurable for testing
	}
	if cfg.LocalName != "" {
		d.LocalName = cfg.LocalName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}

	return &SMTPClient{
		dialer:  &relayDialer{settings: d},
		host:    cfg.Host,
		port:    cfg.Port,
		timeout: timeout,
		log:     log,
	}
}

// Deliver submits msg. The configured timeout bounds the whole relay
// conversation: when it expires the connection is closed, so a timed out
// attempt never completes later in the background.
func (c *SMTPClient) Deliver(ctx context.Context, msg *ComposedMessage) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.submit(ctx, msg)
	if err != nil {
		if ctxErr := contextError(ctx); ctxErr != nil {
			err = fmt.Errorf("relay did not complete within %s: %w: %w", c.timeout, ctxErr, err)
		}
	}
	duration := time.Since(start)
	metrics.MailSendLatency.WithLabelValues(c.host).Observe(duration.Seconds())

	if err != nil {
		metrics.MailSendFailure.WithLabelValues(c.host).Inc()
		c.log.Warnw("Mail submission failed",
			"host", c.host,
			"port", c.port,
			"duration", duration,
			"error", err)
		return &DeliveryError{Host: c.host, Err: err}
	}

	metrics.MailSendSuccess.WithLabelValues(c.host).Inc()
	c.log.Infow("Mail submitted",
		"host", c.host,
		"subject", msg.Subject,
		"hasAttachment", msg.Attachment != nil,
		"duration", duration)
	return nil
}

func (c *SMTPClient) submit(ctx context.Context, msg *ComposedMessage) error {
	session, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connecting to relay %s:%d: %w", c.host, c.port, err)
	}

	if err := session.Send(msg.From, []string{msg.To}, buildMessage(msg)); err != nil {
		_ = session.Close()
		return err
	}
	// The relay accepted the message; a failed QUIT must not trigger a resend.
	if err := session.Close(); err != nil {
		c.log.Debugw("Closing relay session failed", "host", c.host, "error", err)
	}
	return nil
}

// contextError reports why ctx ended. The socket deadline equals the context
// deadline, so an I/O timeout can surface before ctx.Err is set.
func contextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}

func buildMessage(msg *ComposedMessage) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if a := msg.Attachment; a != nil {
		content := a.Content
		m.Attach(a.Name,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
			gomail.SetHeader(map[string][]string{
				"Content-Type": {attachmentContentType(a.ContentType, a.Name)},
			}),
		)
	}
	return m
}

// attachmentContentType turns the fetched, untrusted content type into a
// well-formed header value carrying the attachment name.
func attachmentContentType(contentType, name string) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "application/octet-stream", map[string]string{}
	}
	params["name"] = name
	if formatted := mime.FormatMediaType(mediaType, params); formatted != "" {
		return formatted
	}
	return mime.FormatMediaType("application/octet-stream", map[string]string{"name": name})
}
