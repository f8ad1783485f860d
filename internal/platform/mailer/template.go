package mailer

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Template defines a reusable email template.
type Template struct {
	ID      string
	Name    string
	Subject string
	Body    string
}

// TemplateEngine manages email templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
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
			ID:      "welcome",
			Name:    "Welcome",
			Subject: "Welcome to RadShare",
			Body:    "Dear {{name}}, your RadShare account has been created. Log in to upload and share medical images with your care team.",
		},
		{
			ID:      "appointment-booked",
			Name:    "Appointment Booked",
			Subject: "Appointment Confirmed for {{date}}",
			Body:    "Dear {{patient_name}}, your appointment with {{doctor_name}} on {{date}} from {{start}} to {{end}} is confirmed.",
		},
		{
			ID:      "appointment-cancelled",
			Name:    "Appointment Cancelled",
			Subject: "Appointment Cancelled",
			Body:    "Dear {{name}}, the appointment on {{date}} from {{start}} to {{end}} has been cancelled.",
		},
		{
			ID:      "image-shared",
			Name:    "Image Shared",
			Subject: "{{owner_name}} shared a medical image with you",
			Body:    "Dear {{grantee_name}}, {{owner_name}} has shared \"{{file_name}}\" with you. Log in to view it.",
		},
		{
			ID:      "notification",
			Name:    "Notification",
			Subject: "New notification on RadShare",
			Body:    "Dear {{name}}, you have a new notification: {{message}}",
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
// supplied data map. Keys present in the template but absent from data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Mailer couples a Sender with the template engine.
type Mailer struct {
	sender    Sender
	templates *TemplateEngine
}

// New returns a Mailer that renders built-in templates and delivers through
// the given sender.
func New(sender Sender) *Mailer {
	return &Mailer{
		sender:    sender,
		templates: NewTemplateEngine(),
	}
}

// SendTemplate renders the template and delivers the result.
func (m *Mailer) SendTemplate(ctx context.Context, templateID string, data map[string]string, to string) error {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, to, subject, body)
}

// Templates exposes the engine so callers can register custom templates.
func (m *Mailer) Templates() *TemplateEngine {
	return m.templates
}
