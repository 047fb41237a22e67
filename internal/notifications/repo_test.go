package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/modoria-backend/pkg/db/dbtest"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
)

func TestRepositoryScopesInboxToUserAndRole(t *testing.T) {
	conn := dbtest.Open(t).DB()
	repo := NewRepository(conn)
	notifier, err := NewNotifier(repo)
	require.NoError(t, err)
	ctx := context.Background()

	admin := uuid.New()
	other := uuid.New()
	require.NoError(t, notifier.NotifyUser(ctx, admin, Message{Type: enums.NotificationTypePayment, Title: "Payment received", Body: "paid"}))
	require.NoError(t, notifier.NotifyUser(ctx, other, Message{Type: enums.NotificationTypePayment, Title: "Payment received", Body: "paid"}))
	require.NoError(t, notifier.NotifyRole(ctx, enums.UserRoleAdmin, Message{Type: enums.NotificationTypeLowStockAlert, Title: "Low stock", Body: "SKU-1 has 2 units left.", Data: map[string]int{"remaining": 2}}))

	svc, err := NewService(repo)
	require.NoError(t, err)

	adminInbox, err := svc.List(ctx, ListParams{Recipient: Recipient{UserID: admin, Role: string(enums.UserRoleAdmin)}})
	require.NoError(t, err)
	assert.Len(t, adminInbox.Items, 2)

	customerInbox, err := svc.List(ctx, ListParams{Recipient: Recipient{UserID: other, Role: string(enums.UserRoleCustomer)}})
	require.NoError(t, err)
	require.Len(t, customerInbox.Items, 1)
	assert.Equal(t, "Payment received", customerInbox.Items[0].Title)

	err = svc.MarkRead(ctx, Recipient{UserID: other, Role: string(enums.UserRoleCustomer)}, adminInbox.Items[0].ID)
	require.Error(t, err, "users cannot mark rows outside their inbox")

	updated, err := svc.MarkAllRead(ctx, Recipient{UserID: admin, Role: string(enums.UserRoleAdmin)})
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated)

	unread, err := svc.List(ctx, ListParams{Recipient: Recipient{UserID: admin, Role: string(enums.UserRoleAdmin)}, UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread.Items)
}

func TestRepositoryListPaginatesWithCursor(t *testing.T) {
	conn := dbtest.Open(t).DB()
	repo := NewRepository(conn)
	notifier, err := NewNotifier(repo)
	require.NoError(t, err)
	svc, err := NewService(repo)
	require.NoError(t, err)
	ctx := context.Background()

	user := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, notifier.NotifyUser(ctx, user, Message{Type: enums.NotificationTypeOrderStatusUpdate, Title: "Order updated", Body: "update"}))
		time.Sleep(2 * time.Millisecond)
	}

	recipient := Recipient{UserID: user}
	page, err := svc.List(ctx, ListParams{Recipient: recipient, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.Cursor)

	next, err := svc.List(ctx, ListParams{Recipient: recipient, Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Empty(t, next.Cursor)
	for _, seen := range page.Items {
		assert.NotEqual(t, seen.ID, next.Items[0].ID)
	}
}

func TestNotifierValidatesInput(t *testing.T) {
	notifier, err := NewNotifier(&fakeRepository{})
	require.NoError(t, err)
	ctx := context.Background()

	require.Error(t, notifier.NotifyUser(ctx, uuid.Nil, Message{Title: "t", Body: "b"}))
	require.Error(t, notifier.NotifyUser(ctx, uuid.New(), Message{Title: " ", Body: "b"}))
	require.Error(t, notifier.NotifyRole(ctx, enums.UserRole("GUEST"), Message{Title: "t", Body: "b"}))
}
