package handlers

import (
	"encoding/json"
	"strings"

	"vn.io.arda/livenotify/internal/application"
	"vn.io.arda/livenotify/internal/domain"
)

// ScopeAll marks a command as a live broadcast to every connected user.
const ScopeAll = "ALL"

func init() {
	RegisterDirect(TopicNotificationCommands, handleDirectCommand)
}

func handleDirectCommand(data []byte) *application.Dispatch {
	var cmd struct {
		CommandID          string `json:"commandId"`
		Scope              string `json:"scope"`
		UserID             string `json:"userId"`
		Type               string `json:"type"`
		Title              string `json:"title"`
		Message            string `json:"message"`
		RelatedEntity      string `json:"relatedEntity"`
		RelatedEntityModel string `json:"relatedEntityModel"`
	}

	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil
	}

	notifType, err := domain.ParseNotificationType(cmd.Type)
	if err != nil {
		notifType = domain.TypeSystem
	}

	if strings.EqualFold(cmd.Scope, ScopeAll) {
		return &application.Dispatch{Announcement: &application.Announcement{
			Title:   cmd.Title,
			Message: cmd.Message,
			Type:    notifType,
		}}
	}

	if cmd.UserID == "" {
		return nil
	}

	var related *domain.EntityRef
	if cmd.RelatedEntity != "" {
		if kind, err := domain.ParseEntityKind(cmd.RelatedEntityModel); err == nil {
			related = &domain.EntityRef{Kind: kind, ID: cmd.RelatedEntity}
		}
	}

	return &application.Dispatch{Notifications: []application.NotificationInput{{
		UserID:        cmd.UserID,
		Title:         cmd.Title,
		Message:       cmd.Message,
		Type:          notifType,
		Related:       related,
		SourceEventID: cmd.CommandID,
	}}}
}
