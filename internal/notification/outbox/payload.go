package outbox

import "qwork_backend/internal/email"

// NotificationEmailPayload is the payload of a TemplateNotification record.
type NotificationEmailPayload struct {
	To           string                  `json:"to"`
	Notification email.NotificationEmail `json:"notification"`
}

// CustomEmailPayload is the payload of a TemplateCustom record.
type CustomEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}
