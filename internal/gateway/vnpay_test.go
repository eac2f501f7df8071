package gateway

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/config"
	"storefront-service/internal/apperr"
)

func testVNPay() *VNPay {
	g := NewVNPay(config.VNPayConfig{
		TmnCode:    "TEST01",
		HashSecret: "test-hash-secret",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://shop.example/checkout/return",
	})
	g.now = func() time.Time {
		return time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
	}
	return g
}

func TestVNPayCreatePaymentBuildsSignedURL(t *testing.T) {
	g := testVNPay()

	payURL, err := g.CreatePayment(context.Background(), PaymentRequest{
		CheckoutID: 42,
		Amount:     150000,
		OrderInfo:  "Thanh toan don hang #42",
		ClientIP:   "203.0.113.9",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(payURL, g.cfg.PayURL+"?"))

	parsed, err := url.Parse(payURL)
	require.NoError(t, err)
	params, err := url.ParseQuery(parsed.RawQuery)
	require.NoError(t, err)

	assert.Equal(t, "TEST01", params.Get("vnp_TmnCode"))
	assert.Equal(t, "42", params.Get("vnp_TxnRef"))
	// Amounts are sent in VND multiplied by 100.
	assert.Equal(t, "15000000", params.Get("vnp_Amount"))
	assert.Equal(t, "20260830103000", params.Get("vnp_CreateDate"))

	received := params.Get("vnp_SecureHash")
	require.NotEmpty(t, received)
	params.Del("vnp_SecureHash")
	assert.Equal(t, signVNPay(params, g.cfg.HashSecret), received)
}

func signedCallback(g *VNPay, mutate func(url.Values)) string {
	params := url.Values{}
	params.Set("vnp_TmnCode", g.cfg.TmnCode)
	params.Set("vnp_TxnRef", "42")
	params.Set("vnp_Amount", "15000000")
	params.Set("vnp_ResponseCode", "00")
	params.Set("vnp_TransactionStatus", "00")
	params.Set("vnp_TransactionNo", "14422574")
	params.Set("vnp_BankCode", "NCB")
	if mutate != nil {
		mutate(params)
	}
	params.Set("vnp_SecureHash", signVNPay(params, g.cfg.HashSecret))
	return params.Encode()
}

func TestVNPayVerifyCallbackRoundTrip(t *testing.T) {
	g := testVNPay()

	result, err := g.VerifyCallback([]byte(signedCallback(g, nil)))
	require.NoError(t, err)

	assert.Equal(t, int64(42), result.CheckoutID)
	assert.Equal(t, "vnpay", result.Gateway)
	assert.True(t, result.Success)
	assert.Equal(t, "14422574", result.TransactionID)
	assert.Equal(t, 150000.0, result.Amount)
	assert.Contains(t, string(result.Details), "NCB")
}

func TestVNPayVerifyCallbackUppercaseHashAccepted(t *testing.T) {
	g := testVNPay()
	payload := signedCallback(g, nil)

	params, err := url.ParseQuery(payload)
	require.NoError(t, err)
	params.Set("vnp_SecureHash", strings.ToUpper(params.Get("vnp_SecureHash")))

	_, err = g.VerifyCallback([]byte(params.Encode()))
	assert.NoError(t, err)
}

func TestVNPayVerifyCallbackRejectsTampering(t *testing.T) {
	g := testVNPay()
	payload := signedCallback(g, nil)

	params, err := url.ParseQuery(payload)
	require.NoError(t, err)
	params.Set("vnp_Amount", "100")

	_, err = g.VerifyCallback([]byte(params.Encode()))
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidSignature))
}

func TestVNPayVerifyCallbackMissingHash(t *testing.T) {
	g := testVNPay()

	_, err := g.VerifyCallback([]byte("vnp_TxnRef=42&vnp_Amount=100"))
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidSignature))
}

func TestVNPayVerifyCallbackFailedPayment(t *testing.T) {
	g := testVNPay()
	payload := signedCallback(g, func(params url.Values) {
		params.Set("vnp_ResponseCode", "24")
		params.Set("vnp_TransactionStatus", "02")
	})

	result, err := g.VerifyCallback([]byte(payload))
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestVNPayAcks(t *testing.T) {
	g := testVNPay()

	assert.Equal(t, Ack{"RspCode": "00", "Message": "Confirm Success"}, g.AckSuccess())
	assert.Equal(t, "97", g.AckFailure(apperr.InvalidSignaturef("bad hash"))["RspCode"])
	assert.Equal(t, "01", g.AckFailure(apperr.NotFoundf("no such checkout"))["RspCode"])
	assert.Equal(t, "99", g.AckFailure(assert.AnError)["RspCode"])
}
