package data

import (
	"context"
	"strings"

	"youth-mis/internal/apperr"
	"youth-mis/internal/model"
)

// Notifications reads and acknowledges the signed-in user's notifications.
// Creating them is the backend's create-notification function.
type Notifications struct {
	repo *Repository[model.Notification]
}

// ListMine returns userID's notifications, newest first.
func (n *Notifications) ListMine(ctx context.Context, userID string) ([]model.Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.FieldError("list-notifications", "user_id", "this field is required")
	}
	return n.repo.List(ctx, Filter{Eq: map[string]any{"user_id": userID}, Order: "created_at", Desc: true})
}

// Unread counts the unread notifications of userID from the same cached list.
func (n *Notifications) Unread(ctx context.Context, userID string) (int, error) {
	all, err := n.ListMine(ctx, userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, x := range all {
		if !x.Read {
			count++
		}
	}
	return count, nil
}

func (n *Notifications) MarkRead(ctx context.Context, id string) (model.Notification, error) {
	return n.repo.Update(ctx, id, Patch{"read": true})
}

func (n *Notifications) Delete(ctx context.Context, id string) error {
	return n.repo.Delete(ctx, id)
}
