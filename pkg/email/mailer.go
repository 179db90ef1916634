package email

import (
	"context"
	"fmt"
	"regexp"
)

// Sender delivers a rendered message.
type Sender interface {
	SendEmail(ctx context.Context, msg Message) error
}

// Message is a rendered transactional email.
type Message struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	HTMLBody string            `json:"-"`
	TextBody string            `json:"-"`
	Tag      string            `json:"tag,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+$`)

// Validate checks the recipient, subject and that a body is present.
func (m Message) Validate() error {
	switch {
	case m.To == "":
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	case !emailRegex.MatchString(m.To):
		return fmt.Errorf("%w: invalid recipient %q", ErrInvalidMessage, m.To)
	case m.Subject == "":
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	case m.HTMLBody == "" && m.TextBody == "":
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}
