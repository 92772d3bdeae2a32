package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/kycdocumentintake/internal/models"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
	args := m.Called(data)
	body, _ := args.Get(0).(map[string]interface{})
	return body, args.Error(1)
}

func (m *mockGateway) Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
	args := m.Called(paymentID)
	body, _ := args.Get(0).(map[string]interface{})
	return body, args.Error(1)
}

const testSecret = "s3cret"

func newTestPayment(gw *mockGateway) *PaymentFunction {
	return &PaymentFunction{
		orders:   gw,
		payments: gw,
		config:   PaymentConfig{KeyID: "rzp_test", KeySecret: testSecret, BypassPassword: "letmein"},
		now:      func() time.Time { return time.UnixMilli(1700000000000) },
	}
}

func sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPayment_CreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("should convert rupees to paise and default the currency", func(t *testing.T) {
		gw := new(mockGateway)
		gw.On("Create", map[string]interface{}{"amount": int64(49950), "currency": "INR", "receipt": "receipt_1700000000000"}).
			Return(map[string]interface{}{"id": "order_1"}, nil)

		resp, err := newTestPayment(gw).CreateOrder(ctx, &models.CreateOrderRequest{Amount: 499.5})
		require.NoError(t, err)
		assert.Equal(t, &models.CreateOrderResponse{OrderID: "order_1", Amount: 49950, Currency: "INR"}, resp)
		gw.AssertExpectations(t)
	})

	t.Run("should reject a non-positive amount", func(t *testing.T) {
		gw := new(mockGateway)
		_, err := newTestPayment(gw).CreateOrder(ctx, &models.CreateOrderRequest{Amount: 0})
		assert.ErrorIs(t, err, ErrInvalidPayload)
		gw.AssertNotCalled(t, "Create", mock.Anything)
	})

	t.Run("should wrap gateway failures", func(t *testing.T) {
		gw := new(mockGateway)
		gw.On("Create", mock.Anything).Return(nil, errors.New("bad key"))
		_, err := newTestPayment(gw).CreateOrder(ctx, &models.CreateOrderRequest{Amount: 10, Receipt: "r1"})
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("should fail when the gateway is not configured", func(t *testing.T) {
		_, err := (&PaymentFunction{now: time.Now}).CreateOrder(ctx, &models.CreateOrderRequest{Amount: 10})
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestPayment_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("should return the fetched payment for a valid signature", func(t *testing.T) {
		gw := new(mockGateway)
		gw.On("Fetch", "pay_1").Return(map[string]interface{}{"id": "pay_1", "amount": float64(49900), "status": "captured", "method": "upi"}, nil)

		resp, err := newTestPayment(gw).Verify(ctx, &models.VerifyPaymentRequest{OrderID: "order_1", PaymentID: "pay_1", Signature: sign("order_1", "pay_1")})
		require.NoError(t, err)
		assert.Equal(t, &models.VerifyPaymentResponse{
			Success:              true,
			PaymentID:            "pay_1",
			OrderID:              "order_1",
			Amount:               499,
			Status:               "captured",
			Method:               "upi",
			TransactionReference: "pay_1",
		}, resp)
	})

	t.Run("should reject a forged signature without calling the gateway", func(t *testing.T) {
		gw := new(mockGateway)
		_, err := newTestPayment(gw).Verify(ctx, &models.VerifyPaymentRequest{OrderID: "order_1", PaymentID: "pay_1", Signature: sign("order_2", "pay_1")})
		assert.ErrorIs(t, err, ErrSignatureMismatch)
		gw.AssertNotCalled(t, "Fetch", mock.Anything)
	})

	t.Run("should reject missing fields", func(t *testing.T) {
		_, err := newTestPayment(new(mockGateway)).Verify(ctx, &models.VerifyPaymentRequest{OrderID: "order_1"})
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}

func TestPayment_Policy(t *testing.T) {
	f := newTestPayment(new(mockGateway))

	t.Run("should accept promo codes case-insensitively", func(t *testing.T) {
		discount, ok := f.ValidatePromo("  big123 ")
		assert.True(t, ok)
		assert.Equal(t, 100, discount)

		resp, err := f.Promo(&models.PromoRequest{Code: "big123"})
		require.NoError(t, err)
		assert.Equal(t, &models.PromoResponse{OK: true, Valid: true, Discount: 100, Code: "BIG123"}, resp)
	})

	t.Run("should reject unknown and missing promo codes", func(t *testing.T) {
		_, ok := f.ValidatePromo("SMALL1")
		assert.False(t, ok)
		_, err := f.Promo(&models.PromoRequest{Code: "SMALL1"})
		assert.ErrorIs(t, err, ErrInvalidPayload)
		_, err = f.Promo(&models.PromoRequest{})
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("should check the bypass password", func(t *testing.T) {
		assert.True(t, f.ValidateBypass("letmein"))
		assert.False(t, f.ValidateBypass("letmeout"))
		assert.False(t, f.ValidateBypass(""))
	})

	t.Run("should disable the bypass when no password is configured", func(t *testing.T) {
		assert.False(t, (&PaymentFunction{}).ValidateBypass(""))
		assert.False(t, (&PaymentFunction{}).ValidateBypass("anything"))
	})
}
