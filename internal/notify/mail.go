// Package notify sends run-outcome emails over SMTP: a success message
// with the intensity map attached, and a failure message with the run log
// so operators can triage without shell access.
package notify

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/timeutil"
	"github.com/seismo-tools/finderd/internal/types"
)

// Config holds the SMTP endpoint and addressing. Disabled when Host or
// Recipients are empty.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
	UseTLS     bool
}

// Enabled reports whether the mailer has enough configuration to send.
func (c Config) Enabled() bool {
	return c.Host != "" && c.From != "" && len(c.Recipients) > 0
}

// Mailer composes and delivers notification messages.
type Mailer struct {
	cfg  Config
	log  *zap.Logger
	send func(*mail.Msg) error
}

// New builds a mailer. A disabled configuration produces a mailer whose
// sends are logged no-ops rather than errors, so callers need no guards.
func New(cfg Config, log *zap.Logger) *Mailer {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Mailer{cfg: cfg, log: log}
	m.send = m.deliver
	return m
}

// NotifySuccess sends the run summary with the intensity image attached
// when it exists.
func (m *Mailer) NotifySuccess(sol *types.FinderSolution, delayMinutes int, intensityJPG string) error {
	if !m.cfg.Enabled() {
		m.log.Debug("mail disabled, skipping success notification",
			zap.String("event_id", sol.EventID))
		return nil
	}

	msg, err := m.newMessage(fmt.Sprintf("[finderd] ShakeMap ready for %s (t+%d min)",
		sol.EventID, delayMinutes))
	if err != nil {
		return err
	}
	msg.SetBodyString(mail.TypeTextPlain, successBody(sol, delayMinutes))

	if intensityJPG != "" {
		if _, err := os.Stat(intensityJPG); err == nil {
			msg.AttachFile(intensityJPG)
		} else {
			m.log.Warn("intensity image missing, sending without attachment",
				zap.String("path", intensityJPG))
		}
	}
	return m.send(msg)
}

// NotifyFailure sends the terminal-failure message with the run log
// attached when available.
func (m *Mailer) NotifyFailure(eventID string, delayMinutes int, runErr error, logPath string) error {
	if !m.cfg.Enabled() {
		m.log.Debug("mail disabled, skipping failure notification",
			zap.String("event_id", eventID))
		return nil
	}

	msg, err := m.newMessage(fmt.Sprintf("[finderd] run FAILED for %s (t+%d min)",
		eventID, delayMinutes))
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The FinDer follow-up for event %s at stage t+%d minutes failed.\n\n", eventID, delayMinutes)
	fmt.Fprintf(&b, "Error: %v\n", runErr)
	fmt.Fprintf(&b, "Time:  %s\n", timeutil.Format(time.Now().UTC()))
	msg.SetBodyString(mail.TypeTextPlain, b.String())

	if logPath != "" {
		if _, err := os.Stat(logPath); err == nil {
			msg.AttachFile(logPath)
		}
	}
	return m.send(msg)
}

func (m *Mailer) newMessage(subject string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.cfg.From, err)
	}
	if err := msg.To(m.cfg.Recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(subject)
	return msg, nil
}

func (m *Mailer) deliver(msg *mail.Msg) error {
	opts := []mail.Option{mail.WithPort(m.cfg.Port)}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password))
	}
	if m.cfg.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	m.log.Info("notification sent", zap.String("subject", msg.GetGenHeader(mail.HeaderSubject)[0]))
	return nil
}

func successBody(sol *types.FinderSolution, delayMinutes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FinDer solution for event %s, stage t+%d minutes.\n\n", sol.EventID, delayMinutes)
	fmt.Fprintf(&b, "Engine event id: %s\n", sol.FinderEventID)
	fmt.Fprintf(&b, "Magnitude:       %.1f\n", sol.Event.Magnitude)
	fmt.Fprintf(&b, "Epicenter:       %.4f, %.4f\n", sol.Event.Latitude, sol.Event.Longitude)
	fmt.Fprintf(&b, "Depth:           %.1f km\n", sol.Event.DepthKm)
	fmt.Fprintf(&b, "Origin time:     %s\n", timeutil.Format(time.Unix(sol.Event.OriginTimeEpoch, 0).UTC()))
	fmt.Fprintf(&b, "Channels:        %d\n", len(sol.Channels))
	fmt.Fprintf(&b, "Rupture points:  %d\n", len(sol.Rupture.Points))
	return b.String()
}
