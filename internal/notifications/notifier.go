package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/google/uuid"
)

// Message is the content of an in-app notification.
type Message struct {
	Type  enums.NotificationType
	Title string
	Body  string
	Link  string
	Data  any
}

// Notifier writes inbox rows for a single user or for every holder of a role.
type Notifier struct {
	repo Repository
}

func NewNotifier(repo Repository) (*Notifier, error) {
	if repo == nil {
		return nil, errors.New("notifications repository required")
	}
	return &Notifier{repo: repo}, nil
}

func (n *Notifier) NotifyUser(ctx context.Context, userID uuid.UUID, msg Message) error {
	if userID == uuid.Nil {
		return errors.New("user id required")
	}
	row, err := msg.toModel()
	if err != nil {
		return err
	}
	row.UserID = &userID
	return n.repo.Create(ctx, row)
}

func (n *Notifier) NotifyRole(ctx context.Context, role enums.UserRole, msg Message) error {
	if !role.IsValid() {
		return errors.New("valid role required")
	}
	row, err := msg.toModel()
	if err != nil {
		return err
	}
	r := string(role)
	row.Role = &r
	return n.repo.Create(ctx, row)
}

func (m Message) toModel() (*models.Notification, error) {
	title := strings.TrimSpace(m.Title)
	body := strings.TrimSpace(m.Body)
	if title == "" || body == "" {
		return nil, errors.New("notification title and message required")
	}
	row := &models.Notification{
		Type:    m.Type,
		Title:   title,
		Message: body,
	}
	if m.Link != "" {
		link := m.Link
		row.Link = &link
	}
	if m.Data != nil {
		data, err := json.Marshal(m.Data)
		if err != nil {
			return nil, err
		}
		row.Data = data
	}
	return row, nil
}
