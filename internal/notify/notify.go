// Package notify records stakeholder notifications and optionally forwards
// them to an external channel.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Priority is the delivery priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// StatusSent is the only status a notification takes: delivery is fire-and-forget.
const StatusSent = "sent"

// Notification is a sent message.
type Notification struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Priority  Priority  `json:"priority"`
	Status    string    `json:"status"`
	SentAt    time.Time `json:"sent_at"`
}

// Forwarder delivers a recorded notification to an external channel.
type Forwarder interface {
	Send(ctx context.Context, n *Notification) error
}

// Log is the in-memory notification service. Every Send is recorded; when a
// Forwarder is configured it is also pushed there, and forwarding failures
// are logged, never returned.
type Log struct {
	mu            sync.RWMutex
	notifications []*Notification
	forwarder     Forwarder
	logger        log.Logger
	now           func() time.Time
}

// NewLog creates a notification log. forwarder may be nil.
func NewLog(forwarder Forwarder, logger log.Logger) *Log {
	if logger == nil {
		logger = log.Nop()
	}
	return &Log{
		forwarder: forwarder,
		logger:    logger,
		now:       time.Now,
	}
}

// Send records a notification and returns the record.
func (l *Log) Send(ctx context.Context, recipient, subject, message string, priority Priority) (*Notification, error) {
	if priority == "" {
		priority = PriorityNormal
	}

	l.mu.Lock()
	n := &Notification{
		ID:        fmt.Sprintf("NOTIF-%04d", len(l.notifications)+1),
		Recipient: recipient,
		Subject:   subject,
		Message:   message,
		Priority:  priority,
		Status:    StatusSent,
		SentAt:    l.now(),
	}
	l.notifications = append(l.notifications, n)
	l.mu.Unlock()

	l.logger.Info(ctx, "notification sent",
		"notification_id", n.ID,
		"recipient", recipient,
		"subject", subject,
		"priority", priority,
	)

	if l.forwarder != nil {
		cp := *n
		if err := l.forwarder.Send(ctx, &cp); err != nil {
			l.logger.Warn(ctx, "notification forward failed", "notification_id", n.ID, "error", err)
		}
	}

	cp := *n
	return &cp, nil
}

// List returns notifications in send order, filtered by recipient when non-empty.
func (l *Log) List(recipient string) []*Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Notification, 0, len(l.notifications))
	for _, n := range l.notifications {
		if recipient != "" && n.Recipient != recipient {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out
}
