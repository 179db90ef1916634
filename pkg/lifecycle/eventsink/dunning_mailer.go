package eventsink

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/a-h/templ"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/email/templates"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Recipient is the person dunning emails go to.
type Recipient struct {
	Email    string
	Name     string
	Language language.Tag
}

// RecipientResolver finds the billing contact of a customer.
// A zero Recipient means the customer has no contact and is skipped.
type RecipientResolver interface {
	Recipient(ctx context.Context, customerID string) (Recipient, error)
}

// RecipientResolverFunc adapts a function to RecipientResolver.
type RecipientResolverFunc func(ctx context.Context, customerID string) (Recipient, error)

func (f RecipientResolverFunc) Recipient(ctx context.Context, customerID string) (Recipient, error) {
	return f(ctx, customerID)
}

// DunningMailer emails customers about failed payments and cancellation
// for non-payment. Other events are ignored.
type DunningMailer struct {
	sender     email.Sender
	recipients RecipientResolver
	logger     *slog.Logger
}

// DunningOption configures a DunningMailer.
type DunningOption func(*DunningMailer)

// WithDunningLogger sets the logger.
func WithDunningLogger(l *slog.Logger) DunningOption {
	return func(m *DunningMailer) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewDunningMailer creates a mailer.
func NewDunningMailer(sender email.Sender, recipients RecipientResolver, opts ...DunningOption) *DunningMailer {
	if sender == nil || recipients == nil {
		panic("eventsink: dunning mailer requires a sender and a recipient resolver")
	}
	m := &DunningMailer{sender: sender, recipients: recipients, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type dunningTemplate struct {
	subject string
	body    func(v dunningView) templ.Component
}

var dunningTemplates = map[lifecycle.EventType]dunningTemplate{
	lifecycle.EventRenewalFailed: {
		subject: "We couldn't renew your subscription",
		body: func(v dunningView) templ.Component {
			return templates.Paragraphs(
				greeting(v),
				templates.Paragraph{
					templates.Plain("We tried to charge " + v.Amount + " for your subscription but the payment did not go through"),
					reason(v), templates.Raw("."),
				},
				templates.Paragraph{templates.Plain("We'll try again automatically. Updating your payment method now avoids any interruption.")},
			)
		},
	},
	lifecycle.EventRetryFailed: {
		subject: "Your payment failed again",
		body: func(v dunningView) templ.Component {
			return templates.Paragraphs(
				greeting(v),
				templates.Paragraph{
					templates.Plain("Our attempt to charge " + v.Amount + " failed again"),
					reason(v), templates.Raw("."),
				},
				templates.Paragraph{templates.Plain("Please update your payment method to keep your subscription active.")},
			)
		},
	},
	lifecycle.EventCanceledNonpayment: {
		subject: "Your subscription has been canceled",
		body: func(v dunningView) templ.Component {
			since := ""
			if v.Since != "" {
				since = " since " + v.Since
			}
			return templates.Paragraphs(
				greeting(v),
				templates.Paragraph{templates.Plain("We were unable to collect payment" + since + ", so your subscription has been canceled.")},
				templates.Paragraph{templates.Plain("You can subscribe again at any time.")},
			)
		},
	},
}

func greeting(v dunningView) templates.Paragraph {
	return templates.Paragraph{templates.Plain("Hi " + v.Name + ",")}
}

func reason(v dunningView) templates.Text {
	if v.Reason == "" {
		return templates.Raw("")
	}
	return templates.Plain(" (" + v.Reason + ")")
}

type dunningView struct {
	Name   string
	Amount string
	Reason string
	Since  string
}

// Handle is a lifecycle.EventHandler.
func (m *DunningMailer) Handle(ctx context.Context, event lifecycle.Event) error {
	tpl, ok := dunningTemplates[event.Type]
	if !ok {
		return nil
	}

	to, err := m.recipients.Recipient(ctx, event.CustomerID)
	if err != nil {
		return fmt.Errorf("eventsink: resolve recipient of %s: %w", event.CustomerID, err)
	}
	if to.Email == "" {
		m.logger.DebugContext(ctx, "dunning email skipped, no recipient",
			logger.CustomerID(event.CustomerID),
			logger.EventType(string(event.Type)),
		)
		return nil
	}

	view := dunningView{Name: to.Name, Reason: stringValue(event.Data, "error")}
	if view.Name == "" {
		view.Name = "there"
	}
	if amount, ok := event.Data["amount"].(int64); ok {
		view.Amount = FormatAmount(amount, stringValue(event.Data, "currency"), to.Language)
	}
	if since, ok := event.Data["past_due_since"].(time.Time); ok {
		view.Since = since.Format("January 2, 2006")
	}

	body, err := templates.Render(ctx, tpl.body(view))
	if err != nil {
		return fmt.Errorf("eventsink: render %s: %w", event.Type, err)
	}

	return m.sender.SendEmail(ctx, email.Message{
		To:       to.Email,
		Subject:  tpl.subject,
		HTMLBody: body,
		Tag:      strings.TrimPrefix(string(event.Type), "subscription."),
		Metadata: map[string]string{
			"event_id":        event.ID,
			"subscription_id": event.SubscriptionID,
		},
	})
}

// FormatAmount formats an amount in minor units for tag, e.g. 2900 USD as "$ 29.00".
// Unknown currency codes fall back to "29.00 XYZ".
func FormatAmount(minor int64, code string, tag language.Tag) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%.2f %s", float64(minor)/100, strings.ToUpper(code))
	}
	scale, _ := currency.Standard.Rounding(unit)
	value := float64(minor) / math.Pow10(scale)
	return message.NewPrinter(tag).Sprint(currency.Symbol(unit.Amount(value)))
}

func stringValue(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
