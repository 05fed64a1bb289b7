// Package printer implements the print-by-mail collaborator: documents are
// delivered to the printer's mailbox over SMTP, and job confirmations are
// picked up from the reply mailbox over IMAP, keyed by correlation id.
package printer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/wneessen/go-mail"

	"github.com/taliahq/talia/internal/models"
)

// DefaultPollInterval is how often the confirmation mailbox is checked.
const DefaultPollInterval = time.Minute

// Opts holds configuration options for the printer service.
type Opts struct {
	SMTPHost     string
	SMTPPort     int
	IMAPAddr     string
	Username     string
	Password     string
	PrinterAddr  string
	PollInterval time.Duration
}

// Option defines a configuration option for the printer service.
type Option func(*Opts)

// WithSMTP sets the outgoing mail server.
func WithSMTP(host string, port int) Option {
	return func(o *Opts) {
		o.SMTPHost = host
		o.SMTPPort = port
	}
}

// WithIMAP sets the confirmation mailbox address (host:port).
func WithIMAP(addr string) Option {
	return func(o *Opts) { o.IMAPAddr = addr }
}

// WithCredentials sets the mailbox login.
func WithCredentials(username, password string) Option {
	return func(o *Opts) {
		o.Username = username
		o.Password = password
	}
}

// WithPrinterAddress sets the printer's email address.
func WithPrinterAddress(addr string) Option {
	return func(o *Opts) { o.PrinterAddr = addr }
}

// WithPollInterval overrides the confirmation polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// Service sends print jobs and surfaces their asynchronous confirmations.
type Service struct {
	cfg           Opts
	confirmations chan models.PrintConfirmation
}

// NewService creates a printer service, falling back to the SMTP_HOST,
// SMTP_PORT, IMAP_ADDR, SMTP_USER, SMTP_PASS, and PRINTER_EMAIL environment
// variables when options are not provided.
func NewService(opts ...Option) (*Service, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SMTPHost == "" {
		cfg.SMTPHost = os.Getenv("SMTP_HOST")
	}
	if cfg.SMTPPort == 0 {
		if raw := os.Getenv("SMTP_PORT"); raw != "" {
			port, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid SMTP_PORT %q: %w", raw, err)
			}
			cfg.SMTPPort = port
		}
	}
	if cfg.IMAPAddr == "" {
		cfg.IMAPAddr = os.Getenv("IMAP_ADDR")
	}
	if cfg.Username == "" {
		cfg.Username = os.Getenv("SMTP_USER")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("SMTP_PASS")
	}
	if cfg.PrinterAddr == "" {
		cfg.PrinterAddr = os.Getenv("PRINTER_EMAIL")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	slog.Debug("Printer service config loaded",
		"smtp_set", cfg.SMTPHost != "",
		"imap_set", cfg.IMAPAddr != "",
		"printer_set", cfg.PrinterAddr != "")

	if cfg.SMTPHost == "" || cfg.SMTPPort == 0 || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("SMTP host, port, and credentials must be provided")
	}
	if cfg.PrinterAddr == "" {
		cfg.PrinterAddr = cfg.Username
	}

	return &Service{
		cfg:           cfg,
		confirmations: make(chan models.PrintConfirmation, 16),
	}, nil
}

// subjectPrefix tags outgoing jobs so confirmations can be correlated.
const subjectPrefix = "Print job"

// Send mails one document to the printer. The correlation id is embedded in
// the subject and echoed back by the print service's status mails.
func (s *Service) Send(ctx context.Context, attachment []byte, filename, correlationID string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.Username); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(s.cfg.PrinterAddr); err != nil {
		return fmt.Errorf("invalid printer address: %w", err)
	}
	msg.Subject(fmt.Sprintf("%s %s: %s", subjectPrefix, correlationID, filename))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf("New print job %s.\nFile: %s\n", correlationID, filename))
	if err := msg.AttachReader(filename, bytes.NewReader(attachment)); err != nil {
		return fmt.Errorf("failed to attach %s: %w", filename, err)
	}

	client, err := mail.NewClient(s.cfg.SMTPHost,
		mail.WithPort(s.cfg.SMTPPort),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
	)
	if err != nil {
		slog.Error("Printer SMTP client creation failed", "error", err)
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		slog.Error("Printer send failed", "error", err, "filename", filename, "correlationID", correlationID)
		return fmt.Errorf("failed to send print job: %w", err)
	}

	slog.Info("Printer job sent", "filename", filename, "correlationID", correlationID)
	return nil
}

// Confirmations returns the channel of asynchronous job status updates.
func (s *Service) Confirmations() <-chan models.PrintConfirmation {
	return s.confirmations
}

// Start begins polling the confirmation mailbox until the context is
// canceled. The channel is closed when polling stops.
func (s *Service) Start(ctx context.Context) {
	if s.cfg.IMAPAddr == "" {
		slog.Warn("Printer confirmation polling disabled: IMAP address not set")
		close(s.confirmations)
		return
	}

	go func() {
		defer close(s.confirmations)
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		slog.Info("Printer confirmation polling started", "interval", s.cfg.PollInterval)
		for {
			select {
			case <-ticker.C:
				if err := s.poll(ctx); err != nil {
					slog.Error("Printer confirmation poll failed", "error", err)
				}
			case <-ctx.Done():
				slog.Debug("Printer confirmation polling stopped")
				return
			}
		}
	}()
}

// poll fetches unseen mails, emits confirmations for recognized subjects, and
// marks the processed mails seen.
func (s *Service) poll(ctx context.Context) error {
	c, err := imapclient.DialTLS(s.cfg.IMAPAddr, nil)
	if err != nil {
		return fmt.Errorf("failed to dial IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return fmt.Errorf("IMAP login failed: %w", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		return fmt.Errorf("failed to select inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("IMAP search failed: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	for msg := range messages {
		if msg.Envelope == nil {
			continue
		}
		confirmation, ok := ParseConfirmation(msg.Envelope.Subject)
		if !ok {
			continue
		}
		slog.Info("Printer confirmation received", "correlationID", confirmation.CorrelationID, "status", confirmation.Status)
		select {
		case s.confirmations <- confirmation:
		case <-ctx.Done():
			return ctx.Err()
		default:
			slog.Warn("Printer confirmation channel full, dropping", "correlationID", confirmation.CorrelationID)
		}
	}
	if err := <-done; err != nil {
		return fmt.Errorf("IMAP fetch failed: %w", err)
	}

	flags := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqset, flags, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark mails seen: %w", err)
	}
	return nil
}

// correlationPattern extracts the job id from a status mail subject. Status
// mails quote the original subject, so the id appears after the prefix.
var correlationPattern = regexp.MustCompile(`(?i)print job ([0-9a-fA-F-]{36})`)

// ParseConfirmation interprets a mailbox subject as a print job status
// update. The second return value is false for unrelated mail.
func ParseConfirmation(subject string) (models.PrintConfirmation, bool) {
	match := correlationPattern.FindStringSubmatch(subject)
	if match == nil {
		return models.PrintConfirmation{}, false
	}

	status := models.PrintStatusReceived
	lower := strings.ToLower(subject)
	switch {
	case strings.Contains(lower, "completed"):
		status = models.PrintStatusCompleted
	case strings.Contains(lower, "failed"):
		status = models.PrintStatusFailed
	}

	return models.PrintConfirmation{
		CorrelationID: strings.ToLower(match[1]),
		Status:        status,
		Subject:       subject,
	}, true
}
