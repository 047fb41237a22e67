package orders

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	dbpkg "github.com/angelmondragon/modoria-backend/pkg/db"
)

const (
	orderNumberPrefix     = "ORD-"
	orderNumberConstraint = "idx_orders_order_number"
	maxOrderNumberTries   = 5
)

// NumberGenerator returns a candidate order number for the given instant.
type NumberGenerator func(now time.Time) string

// NewOrderNumber formats ORD-YYYYMMDD-XXXXXXXX. The suffix is the random tail
// of a ULID; the unique index decides whether the number is actually free.
func NewOrderNumber(now time.Time) string {
	id := ulid.Make().String()
	return orderNumberPrefix + now.UTC().Format("20060102") + "-" + id[len(id)-8:]
}

func isOrderNumberCollision(err error) bool {
	if dbpkg.IsUniqueViolation(err, orderNumberConstraint) {
		return true
	}
	return dbpkg.IsUniqueViolation(err, "") && strings.Contains(err.Error(), "order_number")
}
