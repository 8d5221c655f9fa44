// Package notification delivers push notifications to staff devices with
// template rendering and an in-memory record of recent deliveries.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NotificationType represents the channel used to deliver a notification.
type NotificationType string

const (
	TypePush NotificationType = "push"
)

// Delivery states.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Built-in template IDs.
const (
	TemplateFollowUpOverdue = "followup-overdue"
	TemplatePatientAssigned = "patient-assigned"
)

// DefaultHistorySize is the number of notifications Manager keeps by default.
const DefaultHistorySize = 500

// ErrNoDeviceToken is returned when the recipient has not registered a device.
var ErrNoDeviceToken = errors.New("recipient has no registered device token")

// Notification represents a single outbound notification.
type Notification struct {
	ID           string            `json:"id"`
	Type         NotificationType  `json:"type"`
	Recipient    string            `json:"recipient"`
	Token        string            `json:"-"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// PushSender delivers a push message to a single device token.
type PushSender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// Template defines a reusable notification template.
type Template struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:    TemplateFollowUpOverdue,
			Name:  "Overdue Follow-ups",
			Title: "{{count}} follow-up(s) overdue",
			Body:  "Hello {{asha_name}}, {{count}} patient follow-up(s) are overdue: {{patients}}.",
		},
		{
			ID:    TemplatePatientAssigned,
			Name:  "Patient Assigned",
			Title: "New patient assigned",
			Body:  "{{patient_name}} ({{registration_no}}) from {{village}} has been assigned to you.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	title = t.Title
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return title, body, nil
}

// Manager renders and sends notifications and remembers the most recent ones.
type Manager struct {
	sender    PushSender
	templates *TemplateEngine
	now       func() time.Time

	mu      sync.RWMutex
	history []*Notification
	next    int
	full    bool
	stats   map[string]int
}

// NewManager constructs a Manager keeping up to size notifications.
func NewManager(sender PushSender, tpl *TemplateEngine, size int) *Manager {
	if size <= 0 {
		size = DefaultHistorySize
	}
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Manager{
		sender:    sender,
		templates: tpl,
		now:       func() time.Time { return time.Now().UTC() },
		history:   make([]*Notification, size),
		stats:     make(map[string]int),
	}
}

// Send renders n when it names a template, delivers it and records the
// outcome. The returned error is the delivery error, if any; n carries the
// final status either way.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Type == "" {
		n.Type = TypePush
	}
	n.CreatedAt = m.now()
	n.Status = StatusPending

	var sendErr error
	if n.TemplateID != "" {
		title, body, err := m.templates.Render(n.TemplateID, n.TemplateData)
		if err != nil {
			sendErr = fmt.Errorf("render template: %w", err)
		} else {
			n.Title, n.Body = title, body
		}
	}
	if sendErr == nil {
		switch {
		case n.Type != TypePush:
			sendErr = fmt.Errorf("unsupported notification type: %s", n.Type)
		case n.Token == "":
			sendErr = ErrNoDeviceToken
		default:
			sendErr = m.sender.Send(ctx, n.Token, n.Title, n.Body, n.Data)
		}
	}

	if sendErr != nil {
		n.Status = StatusFailed
		n.Error = sendErr.Error()
	} else {
		n.Status = StatusSent
		sentAt := m.now()
		n.SentAt = &sentAt
	}
	m.record(n)
	return sendErr
}

// SendFromTemplate renders a template for one recipient and sends it.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient, token string) (*Notification, error) {
	n := &Notification{
		Type:         TypePush,
		Recipient:    recipient,
		Token:        token,
		TemplateID:   templateID,
		TemplateData: data,
		Data:         map[string]string{"template": templateID},
	}
	err := m.Send(ctx, n)
	return n, err
}

func (m *Manager) record(n *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[m.next] = n
	m.next = (m.next + 1) % len(m.history)
	if m.next == 0 {
		m.full = true
	}
	m.stats[n.Status]++
}

// Recent returns up to limit notifications, newest first.
func (m *Manager) Recent(limit int) []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.next
	if m.full {
		size = len(m.history)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]*Notification, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.history)) % len(m.history)
		out = append(out, m.history[idx])
	}
	return out
}

// Stats returns counts of notifications by status since startup.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int, len(m.stats))
	for k, v := range m.stats {
		out[k] = v
	}
	return out
}
