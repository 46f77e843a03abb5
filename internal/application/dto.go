package application

import "vn.io.arda/livenotify/internal/domain"

// NotificationInput is the DTO used by producers to create notifications.
// This is a type alias for domain.CreateNotificationInput for convenience.
type NotificationInput = domain.CreateNotificationInput

// Announcement is a system-wide message pushed to every live connection.
// It is not persisted, so offline users never see it.
type Announcement struct {
	Title   string
	Message string
	Type    domain.NotificationType
}

// Dispatch is what one inbound domain event asks the service to deliver.
type Dispatch struct {
	Notifications []NotificationInput
	Announcement  *Announcement
}
