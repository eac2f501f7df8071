package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"storefront-service/config"
	"storefront-service/internal/apperr"
)

// VNPay builds signed redirect URLs and verifies IPN callbacks. All
// requests and callbacks are HMAC-SHA512 signed over the sorted,
// URL-encoded parameter string.
type VNPay struct {
	cfg config.VNPayConfig
	now func() time.Time
}

// NewVNPay creates a VNPay client with injected merchant credentials.
func NewVNPay(cfg config.VNPayConfig) *VNPay {
	return &VNPay{cfg: cfg, now: time.Now}
}

func (g *VNPay) Name() string { return "vnpay" }

// CreatePayment builds the signed payment URL. VNPay amounts are VND
// multiplied by 100.
func (g *VNPay) CreatePayment(_ context.Context, req PaymentRequest) (string, error) {
	params := url.Values{}
	params.Set("vnp_Version", "2.1.0")
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", g.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(int64(req.Amount*100), 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", strconv.FormatInt(req.CheckoutID, 10))
	params.Set("vnp_OrderInfo", req.OrderInfo)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_IpAddr", req.ClientIP)
	params.Set("vnp_CreateDate", g.now().Format("20060102150405"))
	params.Set("vnp_ReturnUrl", g.cfg.ReturnURL)

	signed := signVNPay(params, g.cfg.HashSecret)
	params.Set("vnp_SecureHash", signed)

	return g.cfg.PayURL + "?" + encodeSorted(params), nil
}

// VerifyCallback authenticates an IPN query string. The secure hash is
// recomputed over every vnp_ parameter except the hash fields themselves.
func (g *VNPay) VerifyCallback(payload []byte) (*CallbackResult, error) {
	params, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, apperr.Validationf("malformed vnpay callback: %v", err)
	}

	received := params.Get("vnp_SecureHash")
	if received == "" {
		return nil, apperr.InvalidSignaturef("vnpay callback missing secure hash")
	}
	params.Del("vnp_SecureHash")
	params.Del("vnp_SecureHashType")

	expected := signVNPay(params, g.cfg.HashSecret)
	if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		return nil, apperr.InvalidSignaturef("vnpay secure hash mismatch")
	}

	checkoutID, err := strconv.ParseInt(params.Get("vnp_TxnRef"), 10, 64)
	if err != nil {
		return nil, apperr.Validationf("vnpay callback has invalid vnp_TxnRef %q", params.Get("vnp_TxnRef"))
	}

	amount, _ := strconv.ParseFloat(params.Get("vnp_Amount"), 64)
	details, _ := json.Marshal(flatten(params))

	return &CallbackResult{
		CheckoutID:    checkoutID,
		Gateway:       g.Name(),
		Success:       params.Get("vnp_ResponseCode") == "00" && params.Get("vnp_TransactionStatus") == "00",
		TransactionID: params.Get("vnp_TransactionNo"),
		Amount:        amount / 100,
		Details:       details,
	}, nil
}

// AckSuccess is the confirmation shape VNPay stops retrying on.
func (g *VNPay) AckSuccess() Ack {
	return Ack{"RspCode": "00", "Message": "Confirm Success"}
}

func (g *VNPay) AckFailure(err error) Ack {
	if apperr.IsKind(err, apperr.KindInvalidSignature) {
		return Ack{"RspCode": "97", "Message": "Invalid Checksum"}
	}
	if apperr.IsKind(err, apperr.KindNotFound) {
		return Ack{"RspCode": "01", "Message": "Order Not Found"}
	}
	return Ack{"RspCode": "99", "Message": "Unknown Error"}
}

func signVNPay(params url.Values, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(encodeSorted(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// encodeSorted produces the canonical query string VNPay signs: keys
// sorted lexicographically, values URL-encoded.
func encodeSorted(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

func flatten(params url.Values) map[string]string {
	out := make(map[string]string, len(params))
	for k := range params {
		out[k] = params.Get(k)
	}
	return out
}

var _ Gateway = (*VNPay)(nil)
