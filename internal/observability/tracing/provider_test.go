package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsUserData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/admin/coupons"),
		attribute.String("user_id", "u_1"),
		attribute.String("wallet_address", "0xabc"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorTruncates(t *testing.T) {
	err := SafeError(errors.New("insert failed\nINSERT INTO payout_requests ..."))
	assert.EqualError(t, err, "insert failed")
	assert.Nil(t, SafeError(nil))
}
