package email

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// TransientError marks an SMTP failure as retriable. Connection, handshake,
// authentication and protocol faults all land here: the message itself is
// fine, the path to the server is not.
type TransientError struct {
	msg string
	err error
}

func (e *TransientError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}
func (e *TransientError) Unwrap() error   { return e.err }
func (e *TransientError) Temporary() bool { return true }

type SMTPConfig struct {
	Host     string
	Port     int
	Login    string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
	// ImplicitTLS dials TLS from the first byte (the port-465 scheme).
	// When false the connection starts in plaintext and upgrades via
	// STARTTLS.
	ImplicitTLS bool
	// Opportunistic downgrades TLSMandatory to STARTTLS-if-offered, for dev
	// servers without certificates. Ignored under ImplicitTLS.
	Opportunistic bool
}

// SMTPGateway sends one email per connection; connections are not pooled.
type SMTPGateway struct {
	cfg SMTPConfig
	lg  zerolog.Logger
}

func NewSMTPGateway(cfg SMTPConfig, lg zerolog.Logger) *SMTPGateway {
	return &SMTPGateway{
		cfg: cfg,
		lg:  lg.With().Str("component", "smtp_gateway").Logger(),
	}
}

// Send builds a multipart text+HTML message and delivers it. Every failure,
// including absent configuration, is transient: operator action or a healthy
// server resolves it, and the broker retry loop bounds the damage.
func (g *SMTPGateway) Send(ctx context.Context, to, subject, htmlBody, correlationID string) error {
	if g.cfg.Host == "" || g.cfg.Port == 0 || g.cfg.Login == "" {
		return &TransientError{msg: "smtp configuration incomplete"}
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	m := mail.NewMsg()
	if err := m.FromFormat(g.cfg.FromName, g.cfg.From); err != nil {
		return &TransientError{msg: "invalid from address", err: err}
	}
	if err := m.To(to); err != nil {
		return &TransientError{msg: "invalid to address", err: err}
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, "Please enable HTML to view this email.")
	m.AddAlternativeString(mail.TypeTextHTML, htmlBody)

	opts := []mail.Option{
		mail.WithPort(g.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(g.cfg.Login),
		mail.WithPassword(g.cfg.Password),
	}
	opts = append(opts, g.tlsOptions()...)

	client, err := mail.NewClient(g.cfg.Host, opts...)
	if err != nil {
		return &TransientError{msg: "smtp client init failed", err: err}
	}

	g.lg.Info().
		Str("host", fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)).
		Str("to", to).
		Str("correlation_id", correlationID).
		Msg("attempting smtp send")

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		g.lg.Error().Err(err).Str("to", to).Str("correlation_id", correlationID).Msg("smtp send failed")
		return &TransientError{msg: "smtp send failed", err: err}
	}

	g.lg.Info().Str("to", to).Str("correlation_id", correlationID).Msg("smtp send ok")
	return nil
}

// tlsMode selects between implicit TLS and a STARTTLS policy. A server
// speaking implicit TLS sends no greeting on a plaintext connection, so
// getting this wrong stalls every send until the dial timeout.
func (c SMTPConfig) tlsMode() (implicit bool, policy mail.TLSPolicy) {
	if c.ImplicitTLS {
		return true, mail.TLSMandatory
	}
	if c.Opportunistic {
		return false, mail.TLSOpportunistic
	}
	return false, mail.TLSMandatory
}

func (g *SMTPGateway) tlsOptions() []mail.Option {
	implicit, policy := g.cfg.tlsMode()
	if implicit {
		return []mail.Option{mail.WithSSL()}
	}
	return []mail.Option{mail.WithTLSPolicy(policy)}
}
