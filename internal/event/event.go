// Package event defines the authentication events emitted after each flow.
// Events never carry passwords or password hashes.
package event

import (
	"context"
	"strings"
	"time"
)

type Type string

const (
	UserRegistered Type = "user.registered"
	LoginSucceeded Type = "login.succeeded"
	LoginFailed    Type = "login.failed"
)

type AuthEvent struct {
	Type  Type      `json:"type"`
	Email string    `json:"email"`
	At    time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt AuthEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AuthEvent) error { return nil }

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
