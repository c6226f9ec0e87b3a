package notification

import (
	"bytes"
	"context"
	"html/template"

	"github.com/goliatone/go-errors"
	"gopkg.in/gomail.v2"
)

const (
	// TemplateSignupVerification is the account activation link email
	TemplateSignupVerification = "signup-verification"
	// TemplateSignupCode is the 6-digit signup code email
	TemplateSignupCode = "signup-code"
	// TemplatePasswordReset is the password recovery code email
	TemplatePasswordReset = "password-reset"
)

var defaultSubjects = map[string]string{
	TemplateSignupVerification: "Verify your email address",
	TemplateSignupCode:         "Your signup verification code",
	TemplatePasswordReset:      "Your password reset code",
}

var defaultBodies = map[string]string{
	TemplateSignupVerification: `<html><body>
<p>Welcome! Click the link below to verify your email and activate your account.</p>
<p><a href="{{.verificationLink}}">Verify email</a></p>
<p>The link expires in 24 hours.</p>
</body></html>`,
	TemplateSignupCode: `<html><body>
<p>Your signup verification code is:</p>
<h2>{{.code}}</h2>
<p>The code expires in 10 minutes.</p>
</body></html>`,
	TemplatePasswordReset: `<html><body>
<p>Your password reset code is:</p>
<h2>{{.code}}</h2>
<p>The code expires in 10 minutes. If you did not request a reset you can ignore this email.</p>
</body></html>`,
}

// EmailSender abstracts gomail's dialer so tests can run without SMTP.
type EmailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailChannel delivers notifications over SMTP with HTML templates.
type EmailChannel struct {
	sender    EmailSender
	from      string
	subjects  map[string]string
	templates map[string]*template.Template
	logger    Logger
}

// EmailOption customizes the channel.
type EmailOption func(*EmailChannel)

// WithEmailTemplate registers or replaces a named template.
func WithEmailTemplate(name, subject, body string) EmailOption {
	return func(c *EmailChannel) {
		tpl, err := template.New(name).Parse(body)
		if err != nil {
			if c.logger != nil {
				c.logger.Error("failed to parse email template %s: %v", name, err)
			}
			return
		}
		c.templates[name] = tpl
		if subject != "" {
			c.subjects[name] = subject
		}
	}
}

// WithEmailLogger sets the channel logger.
func WithEmailLogger(logger Logger) EmailOption {
	return func(c *EmailChannel) {
		c.logger = logger
	}
}

// NewEmailChannel builds a channel over an SMTP host.
func NewEmailChannel(host string, port int, username, password, from string, opts ...EmailOption) (*EmailChannel, error) {
	return NewEmailChannelWithSender(gomail.NewDialer(host, port, username, password), from, opts...)
}

// NewEmailChannelWithSender builds a channel over a custom sender.
func NewEmailChannelWithSender(sender EmailSender, from string, opts ...EmailOption) (*EmailChannel, error) {
	if from == "" {
		return nil, errors.New("email channel requires a from address", errors.CategoryBadInput)
	}

	c := &EmailChannel{
		sender:    sender,
		from:      from,
		subjects:  make(map[string]string, len(defaultSubjects)),
		templates: make(map[string]*template.Template, len(defaultBodies)),
	}

	for name, subject := range defaultSubjects {
		c.subjects[name] = subject
	}

	for name, body := range defaultBodies {
		tpl, err := template.New(name).Parse(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to parse default email template")
		}
		c.templates[name] = tpl
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Kind implements Channel.
func (c *EmailChannel) Kind() Kind {
	return KindEmail
}

// SupportsTemplates implements Channel.
func (c *EmailChannel) SupportsTemplates() bool {
	return true
}

// Send delivers a plain text message.
func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := c.sender.DialAndSend(m); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "smtp delivery failed")
	}

	return nil
}

// SendTemplate renders the named template with msg.Variables and sends
// the result as HTML.
func (c *EmailChannel) SendTemplate(ctx context.Context, msg Message, name string) error {
	tpl, ok := c.templates[name]
	if !ok {
		return errors.New("unknown email template", errors.CategoryBadInput).
			WithMetadata(map[string]any{"template": name})
	}

	data := make(map[string]string, len(msg.Variables))
	for k, v := range msg.Variables {
		data[k] = v
	}

	var body bytes.Buffer
	if err := tpl.Execute(&body, data); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to render email template")
	}

	subject := msg.Subject
	if subject == "" {
		subject = c.subjects[name]
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body.String())

	if err := c.sender.DialAndSend(m); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "smtp delivery failed")
	}

	return nil
}

var _ Channel = (*EmailChannel)(nil)
