package notification

import (
	"context"
	"time"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

type Kind string

const (
	KindOTP             Kind = "otp"
	KindWelcome         Kind = "welcome"
	KindPasswordReset   Kind = "password_reset"
	KindAdminInvitation Kind = "admin_invitation"
)

// Message is one outbound SMS or e-mail.
type Message struct {
	ID        string            `json:"id"`
	Channel   Channel           `json:"channel"`
	Recipient string            `json:"recipient"`
	Kind      Kind              `json:"kind"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Notifier delivers messages. Implementations must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
