package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle/eventsink"
)

// recipientEntry is one customer in the recipients file:
//
//	cus_123:
//	  email: billing@acme.test
//	  name: Acme
//	  language: de
type recipientEntry struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
}

// staticRecipients resolves billing contacts from a fixed map.
// Unknown customers resolve to a zero Recipient and are skipped by the mailer.
type staticRecipients map[string]eventsink.Recipient

func (r staticRecipients) Recipient(_ context.Context, customerID string) (eventsink.Recipient, error) {
	return r[customerID], nil
}

func loadRecipients(path string) (staticRecipients, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipients file: %w", err)
	}
	return parseRecipients(raw)
}

func parseRecipients(raw []byte) (staticRecipients, error) {
	var entries map[string]recipientEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}

	out := make(staticRecipients, len(entries))
	for customerID, e := range entries {
		tag := language.English
		if e.Language != "" {
			parsed, err := language.Parse(e.Language)
			if err != nil {
				return nil, fmt.Errorf("recipient %s: %w", customerID, err)
			}
			tag = parsed
		}
		out[customerID] = eventsink.Recipient{Email: e.Email, Name: e.Name, Language: tag}
	}
	return out, nil
}
