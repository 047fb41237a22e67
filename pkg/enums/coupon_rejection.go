package enums

// CouponRejection explains why a coupon did not validate.
type CouponRejection string

const (
	CouponRejectionNotFound     CouponRejection = "NOT_FOUND"
	CouponRejectionExpired      CouponRejection = "EXPIRED"
	CouponRejectionLimitReached CouponRejection = "LIMIT_REACHED"
	CouponRejectionMinNotMet    CouponRejection = "MIN_NOT_MET"
)

// Message is the customer-facing text for the rejection.
func (r CouponRejection) Message() string {
	switch r {
	case CouponRejectionNotFound:
		return "coupon not found or inactive"
	case CouponRejectionExpired:
		return "coupon has expired"
	case CouponRejectionLimitReached:
		return "coupon has reached its usage limit"
	case CouponRejectionMinNotMet:
		return "order total does not meet the coupon minimum"
	default:
		return "coupon cannot be applied"
	}
}
