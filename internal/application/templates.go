package application

import (
	"sort"
	"strings"
	"sync"
)

// Notification types produced by the consultation lifecycle.
const (
	NotificationConsultationBooked    = "CONSULTATION_BOOKED"
	NotificationConsultationStarted   = "CONSULTATION_STARTED"
	NotificationConsultationCompleted = "CONSULTATION_COMPLETED"
	NotificationConsultationCancelled = "CONSULTATION_CANCELLED"
	NotificationGeneral               = "GENERAL"
)

// NotificationTemplate holds the title and message of a notification type.
// Placeholders are written as {key} and filled from the notification meta.
type NotificationTemplate struct {
	Title   string
	Message string
}

// TemplateRegistry maps notification types to templates.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]NotificationTemplate
}

// NewTemplateRegistry returns a registry preloaded with the consultation templates.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{templates: map[string]NotificationTemplate{
		NotificationConsultationBooked: {
			Title:   "Consultation booked",
			Message: "Your {type} consultation is scheduled for {scheduledAt}.",
		},
		NotificationConsultationStarted: {
			Title:   "Consultation started",
			Message: "Your {type} consultation has started. Join the chat room to talk with your {counterpart}.",
		},
		NotificationConsultationCompleted: {
			Title:   "Consultation completed",
			Message: "Your {type} consultation scheduled for {scheduledAt} has ended.",
		},
		NotificationConsultationCancelled: {
			Title:   "Consultation cancelled",
			Message: "Your {type} consultation scheduled for {scheduledAt} was cancelled.",
		},
	}}
}

// Register adds or replaces the template for notificationType.
func (r *TemplateRegistry) Register(notificationType string, tmpl NotificationTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[strings.ToUpper(notificationType)] = tmpl
}

// Render fills the template for notificationType with meta. ok is false when
// no template is registered.
func (r *TemplateRegistry) Render(notificationType string, meta map[string]string) (title, message string, ok bool) {
	r.mu.RLock()
	tmpl, ok := r.templates[strings.ToUpper(notificationType)]
	r.mu.RUnlock()
	if !ok {
		return "", "", false
	}
	replacer := placeholderReplacer(meta)
	return replacer.Replace(tmpl.Title), replacer.Replace(tmpl.Message), true
}

func placeholderReplacer(meta map[string]string) *strings.Replacer {
	keys := make([]string, 0, len(meta))
	for key := range meta {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		pairs = append(pairs, "{"+key+"}", meta[key])
	}
	return strings.NewReplacer(pairs...)
}
