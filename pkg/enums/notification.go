package enums

// NotificationType categorizes in-app notifications.
type NotificationType string

const (
	NotificationTypeOrderStatusUpdate NotificationType = "ORDER_STATUS_UPDATE"
	NotificationTypePayment           NotificationType = "PAYMENT_UPDATE"
	NotificationTypeLowStockAlert     NotificationType = "LOW_STOCK_ALERT"
)

func (n NotificationType) String() string {
	return string(n)
}
