// Package notify delivers run results to external destinations, i.e. webhooks
// and email. Built on go-pkgz/notify senders, messages are plain text with the
// tail of the job output attached on failures.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
)

// Params defines what to send and where
type Params struct {
	EnabledError      bool // send on failed runs
	EnabledCompletion bool // send on successful runs

	WebhookURLs []string
	ToEmails    []string
	FromEmail   string

	SMTPHost     string
	SMTPPort     int
	SMTPTLS      bool
	SMTPStartTLS bool
	SMTPUsername string
	SMTPPassword string

	Timeout time.Duration
}

// Service delivers messages to all configured destinations
type Service struct {
	params    Params
	notifiers []notify.Notifier
}

// NewService makes notification service for given params. Returns nil if
// nothing is enabled or no destinations are set, callers treat nil as "don't notify".
func NewService(p Params) *Service {
	if !p.EnabledError && !p.EnabledCompletion {
		return nil
	}
	if len(p.WebhookURLs) == 0 && len(p.ToEmails) == 0 {
		return nil
	}
	if p.Timeout == 0 {
		p.Timeout = 10 * time.Second
	}

	var notifiers []notify.Notifier
	if len(p.WebhookURLs) > 0 {
		notifiers = append(notifiers, notify.NewWebhook(notify.WebhookParams{Timeout: p.Timeout}))
	}
	if len(p.ToEmails) > 0 {
		notifiers = append(notifiers, notify.NewEmail(notify.SMTPParams{
			Host:     p.SMTPHost,
			Port:     p.SMTPPort,
			TLS:      p.SMTPTLS,
			StartTLS: p.SMTPStartTLS,
			Username: p.SMTPUsername,
			Password: p.SMTPPassword,
			TimeOut:  p.Timeout,
		}))
	}
	return &Service{params: p, notifiers: notifiers}
}

// IsOnError reports if failed runs should be reported
func (s *Service) IsOnError() bool { return s.params.EnabledError }

// IsOnCompletion reports if successful runs should be reported
func (s *Service) IsOnCompletion() bool { return s.params.EnabledCompletion }

// Send delivers the message to every configured destination, collects per-destination
// failures instead of stopping on the first one
func (s *Service) Send(ctx context.Context, subj, text string) error {
	var errs []string
	for _, dest := range s.destinations(subj) {
		log.Printf("[DEBUG] sending %q to %s", subj, dest)
		if err := notify.Send(ctx, s.notifiers, dest, text); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", dest, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to notify: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MakeErrorText builds plain text message for a failed run
func MakeErrorText(job, command, status, output string) string {
	res := fmt.Sprintf("job %q failed, %s\ncommand: %s", job, status, command)
	if output != "" {
		res += "\n\n" + output
	}
	return res
}

// MakeCompletionText builds plain text message for a completed run
func MakeCompletionText(job, command string) string {
	return fmt.Sprintf("job %q completed\ncommand: %s", job, command)
}

// destinations expands configured targets to go-pkgz/notify destination urls,
// the email destination carries subject and from as query params
func (s *Service) destinations(subj string) []string {
	res := make([]string, 0, len(s.params.WebhookURLs)+1)
	res = append(res, s.params.WebhookURLs...)
	if len(s.params.ToEmails) > 0 {
		dest := "mailto:" + strings.Join(s.params.ToEmails, ",") +
			"?subject=" + url.QueryEscape(subj)
		if s.params.FromEmail != "" {
			dest += "&from=" + url.QueryEscape(s.params.FromEmail)
		}
		res = append(res, dest)
	}
	return res
}

// String returns the list of destinations, implements fmt.Stringer for logging
func (s *Service) String() string {
	dests := make([]string, 0, len(s.params.WebhookURLs)+len(s.params.ToEmails))
	dests = append(dests, s.params.WebhookURLs...)
	dests = append(dests, s.params.ToEmails...)
	return fmt.Sprintf("notify to %s", strings.Join(dests, ", "))
}
