package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/Lllllllleong/kycdocumentintake/internal/gcp"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
)

const defaultCurrency = "INR"

// promoCodes maps an upper-cased promo code to its discount percentage.
var promoCodes = map[string]int{
	"BIG123": 100,
}

type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentFetcher interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// PaymentConfig holds the gateway credentials and the admin bypass secret.
type PaymentConfig struct {
	KeyID          string
	KeySecret      string
	BypassPassword string
}

// PaymentFunction creates and verifies Razorpay payments and decides
// when a submission may go through without one.
type PaymentFunction struct {
	orders   orderCreator
	payments paymentFetcher
	config   PaymentConfig
	now      func() time.Time
}

// NewPayment reads its configuration from the environment. Missing
// gateway keys are not fatal: promo and bypass checks still work, and
// order calls fail with ErrNotConfigured.
func NewPayment() *PaymentFunction {
	config := PaymentConfig{
		KeyID:          gcp.GetEnv("RAZORPAY_KEY_ID", ""),
		KeySecret:      gcp.GetEnv("RAZORPAY_KEY_SECRET", ""),
		BypassPassword: gcp.GetEnv("ADMIN_BYPASS_PASSWORD", ""),
	}
	f := &PaymentFunction{config: config, now: time.Now}
	if config.KeyID != "" && config.KeySecret != "" {
		client := razorpay.NewClient(config.KeyID, config.KeySecret)
		f.orders = client.Order
		f.payments = client.Payment
	} else {
		slog.Warn("Razorpay keys not set, payment endpoints disabled.")
	}
	return f
}

// CreateOrder opens a gateway order for amount rupees.
func (f *PaymentFunction) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.CreateOrderResponse, error) {
	if req == nil || req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return nil, invalid("Invalid amount")
	}
	if f.orders == nil {
		return nil, ErrNotConfigured
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	receipt := req.Receipt
	if receipt == "" {
		receipt = fmt.Sprintf("receipt_%d", f.now().UnixMilli())
	}
	paise := int64(math.Round(req.Amount * 100))
	logCtx := slog.With("receipt", receipt, "amountPaise", paise)

	body, err := f.orders.Create(map[string]interface{}{
		"amount":   paise,
		"currency": currency,
		"receipt":  receipt,
	}, nil)
	if err != nil {
		logCtx.Error("Failed to create order.", "error", err)
		return nil, upstream("failed to create order", err)
	}
	orderID, _ := body["id"].(string)
	if orderID == "" {
		return nil, upstream("failed to create order", fmt.Errorf("gateway response has no order id"))
	}
	logCtx.Info("Order created.", "orderId", orderID)
	return &models.CreateOrderResponse{OrderID: orderID, Amount: paise, Currency: currency}, nil
}

// Verify checks the checkout signature and returns the captured payment.
func (f *PaymentFunction) Verify(ctx context.Context, req *models.VerifyPaymentRequest) (*models.VerifyPaymentResponse, error) {
	if req == nil || req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return nil, invalid("missing payment fields")
	}
	if f.payments == nil || f.config.KeySecret == "" {
		return nil, ErrNotConfigured
	}
	logCtx := slog.With("orderId", req.OrderID, "paymentId", req.PaymentID)

	if !validSignature(req.OrderID, req.PaymentID, req.Signature, f.config.KeySecret) {
		logCtx.Warn("Payment signature mismatch.")
		return nil, ErrSignatureMismatch
	}

	body, err := f.payments.Fetch(req.PaymentID, nil, nil)
	if err != nil {
		logCtx.Error("Failed to fetch payment.", "error", err)
		return nil, upstream("failed to fetch payment", err)
	}
	resp := &models.VerifyPaymentResponse{
		Success:              true,
		PaymentID:            req.PaymentID,
		OrderID:              req.OrderID,
		TransactionReference: req.PaymentID,
	}
	if paise, ok := body["amount"].(float64); ok {
		resp.Amount = paise / 100
	}
	resp.Status, _ = body["status"].(string)
	resp.Method, _ = body["method"].(string)
	logCtx.Info("Payment verified.", "status", resp.Status)
	return resp, nil
}

// ValidatePromo returns the discount for code.
func (f *PaymentFunction) ValidatePromo(code string) (int, bool) {
	discount, ok := promoCodes[normalizePromo(code)]
	return discount, ok
}

// ValidateBypass reports whether password is the admin bypass password.
// An unset password disables the bypass.
func (f *PaymentFunction) ValidateBypass(password string) bool {
	if f.config.BypassPassword == "" || password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(f.config.BypassPassword)) == 1
}

// Promo answers the promo validation endpoint. Unknown codes are
// validation errors.
func (f *PaymentFunction) Promo(req *models.PromoRequest) (*models.PromoResponse, error) {
	if req == nil || strings.TrimSpace(req.Code) == "" {
		return nil, invalid("Promo code is required")
	}
	code := normalizePromo(req.Code)
	discount, ok := f.ValidatePromo(code)
	if !ok {
		return nil, invalid("Invalid promo code")
	}
	return &models.PromoResponse{OK: true, Valid: true, Discount: discount, Code: code}, nil
}

func normalizePromo(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validSignature(orderID, paymentID, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
