package mail

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"gopkg.in/gomail.v2"
)

// relayDialer opens SMTP sessions with the settings of a gomail.Dialer, but
// owns the connection: its deadline is the context deadline and it is closed
// as soon as the context ends.
type relayDialer struct {
	settings *gomail.Dialer
	net      net.Dialer
}

func (d *relayDialer) Dial(ctx context.Context) (gomail.SendCloser, error) {
	s := d.settings
	conn, err := d.net.DialContext(ctx, "tcp", net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	client, err := d.handshake(conn)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, err
	}
	return &relaySession{client: client, stop: stop}, nil
}

// handshake greets the relay, upgrades to TLS and authenticates the way
// gomail.Dialer.Dial does.
func (d *relayDialer) handshake(conn net.Conn) (*smtp.Client, error) {
	s := d.settings
	if s.SSL {
		conn = tls.Client(conn, d.tlsConfig())
	}

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return nil, err
	}

	if s.LocalName != "" {
		if err := c.Hello(s.LocalName); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	if !s.SSL {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(d.tlsConfig()); err != nil {
				_ = c.Close()
				return nil, err
			}
		}
	}

	auth := s.Auth
	if auth == nil && s.Username != "" {
		if ok, mechanisms := c.Extension("AUTH"); ok {
			if strings.Contains(mechanisms, "CRAM-MD5") {
				auth = smtp.CRAMMD5Auth(s.Username, s.Password)
			} else {
				auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
			}
		}
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (d *relayDialer) tlsConfig() *tls.Config {
	if d.settings.TLSConfig == nil {
		return &tls.Config{ServerName: d.settings.Host}
	}
	return d.settings.TLSConfig
}

type relaySession struct {
	client *smtp.Client
	stop   func() bool
}

func (s *relaySession) Send(from string, to []string, msg io.WriterTo) error {
	if err := s.client.Mail(from); err != nil {
		return err
	}
	for _, addr := range to {
		if err := s.client.Rcpt(addr); err != nil {
			return err
		}
	}

	w, err := s.client.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *relaySession) Close() error {
	defer s.stop()
	if err := s.client.Quit(); err != nil {
		_ = s.client.Close()
		return err
	}
	return nil
}
