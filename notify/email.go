// Package notify holds the notification sinks: a structured-log sink, an SMTP
// sink and a fan-out that delivers to several of them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"github.com/shifa/membership-engine/core"
)

var ErrNoRecipient = errors.New("notification has no recipient")

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string

	// Governance receives committee-facing notifications.
	Governance []string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSink sends notifications as plain-text mail.
type EmailSink struct {
	config EmailConfig
	send   sendFunc
}

func NewEmailSink(config EmailConfig) *EmailSink {
	return &EmailSink{config: config, send: smtp.SendMail}
}

var subjects = map[core.TemplateKey]string{
	core.TemplateDependentPromoted: "Your membership has been activated",
	core.TemplateDependentDeclined: "Dependent not promoted after member exit",
	core.TemplateArrearsSuspension: "Members suspended for arrears",
	core.TemplateRenewalReminder:   "Annual subscription reminder",
	core.TemplateRenewalSummary:    "Renewal reminders sent",
	core.TemplateCommitteeTenure:   "Committee tenure review",
	core.TemplateMemberApproved:    "Welcome, your membership is approved",
	core.TemplateClaimDecided:      "Medical assistance claim decision",
}

// Subject returns the mail subject for a notification.
func Subject(n core.Notification) string {
	s, ok := subjects[n.Template]
	if !ok {
		s = strings.ReplaceAll(string(n.Template), "_", " ")
	}
	if n.Urgent {
		s = "[URGENT] " + s
	}
	return s
}

// Body renders the notification context as sorted "key: value" lines.
func Body(n core.Notification) string {
	keys := make([]string, 0, len(n.Context))
	for k := range n.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Record: %s %s\r\n\r\n", n.Record.Type, n.Record.ID)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, n.Context[k])
	}
	return b.String()
}

func (s *EmailSink) recipients(n core.Notification) []string {
	if n.Audience == core.AudienceGovernance {
		return s.config.Governance
	}
	if n.Recipient == "" {
		return nil
	}
	return []string{n.Recipient}
}

func (s *EmailSink) Send(ctx context.Context, n core.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := s.recipients(n)
	if len(to) == 0 {
		return fmt.Errorf("%s: %w", n.Template, ErrNoRecipient)
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, strings.Join(to, ", "), Subject(n), Body(n))

	var auth smtp.Auth
	if s.config.User != "" {
		auth = smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	if err := s.send(addr, auth, s.config.From, to, []byte(msg)); err != nil {
		return fmt.Errorf("send %s mail: %w", n.Template, err)
	}
	return nil
}
