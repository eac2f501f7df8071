package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"storefront-service/config"
	"storefront-service/internal/apperr"
	"storefront-service/internal/util"
)

// ZaloPay creates payment orders over HTTP and verifies webhook callbacks.
// Create requests are signed with key1, callbacks with key2, both
// HMAC-SHA256 over pipe-joined fields.
type ZaloPay struct {
	cfg     config.ZaloPayConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	now     func() time.Time
}

// NewZaloPay creates a ZaloPay client. Outbound calls carry a bounded
// timeout and run behind a circuit breaker so a dead gateway surfaces as
// a fast upstream error instead of hanging request handlers.
func NewZaloPay(cfg config.ZaloPayConfig, timeout time.Duration) *ZaloPay {
	return &ZaloPay{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "zalopay",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		now: time.Now,
	}
}

func (g *ZaloPay) Name() string { return "zalopay" }

type zaloCreateResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	OrderURL      string `json:"order_url"`
	ZpTransToken  string `json:"zp_trans_token"`
}

// CreatePayment posts a create-order request and returns the hosted
// payment URL.
func (g *ZaloPay) CreatePayment(ctx context.Context, req PaymentRequest) (string, error) {
	now := g.now()
	appTransID := fmt.Sprintf("%s_%d", now.Format("060102"), req.CheckoutID)
	appTime := now.UnixMilli()
	amount := int64(req.Amount)
	appUser := "storefront"

	embedData, _ := json.Marshal(map[string]interface{}{
		"checkout_id": req.CheckoutID,
		"redirecturl": g.cfg.CallbackURL,
	})
	item := "[]"

	data := fmt.Sprintf("%d|%s|%s|%d|%d|%s|%s",
		g.cfg.AppID, appTransID, appUser, amount, appTime, embedData, item)
	mac := signSHA256(data, g.cfg.Key1)

	form := url.Values{}
	form.Set("app_id", strconv.Itoa(g.cfg.AppID))
	form.Set("app_trans_id", appTransID)
	form.Set("app_user", appUser)
	form.Set("app_time", strconv.FormatInt(appTime, 10))
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("embed_data", string(embedData))
	form.Set("item", item)
	form.Set("description", req.OrderInfo)
	form.Set("callback_url", g.cfg.CallbackURL)
	form.Set("mac", mac)

	start := time.Now()
	body, err := g.breaker.Execute(func() ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			g.cfg.Endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := g.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	util.GatewayRequestLatency.WithLabelValues(g.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", apperr.Upstream("zalopay create order failed", err)
	}

	var created zaloCreateResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", apperr.Upstream("zalopay returned malformed response", err)
	}
	if created.ReturnCode != 1 {
		return "", apperr.Upstream(
			fmt.Sprintf("zalopay rejected create order: %s", created.ReturnMessage), nil)
	}

	return created.OrderURL, nil
}

type zaloCallbackEnvelope struct {
	Data string `json:"data"`
	Mac  string `json:"mac"`
	Type int    `json:"type"`
}

type zaloCallbackData struct {
	AppID      int    `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	ZpTransID  int64  `json:"zp_trans_id"`
	Amount     int64  `json:"amount"`
	EmbedData  string `json:"embed_data"`
}

// VerifyCallback authenticates a webhook body. ZaloPay only delivers
// callbacks for successful payments; a verified mac means paid.
func (g *ZaloPay) VerifyCallback(payload []byte) (*CallbackResult, error) {
	var envelope zaloCallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, apperr.Validationf("malformed zalopay callback: %v", err)
	}

	expected := signSHA256(envelope.Data, g.cfg.Key2)
	if !hmac.Equal([]byte(envelope.Mac), []byte(expected)) {
		return nil, apperr.InvalidSignaturef("zalopay mac mismatch")
	}

	var data zaloCallbackData
	if err := json.Unmarshal([]byte(envelope.Data), &data); err != nil {
		return nil, apperr.Validationf("malformed zalopay callback data: %v", err)
	}

	checkoutID, err := parseAppTransID(data.AppTransID)
	if err != nil {
		return nil, apperr.Validationf("zalopay callback has invalid app_trans_id %q", data.AppTransID)
	}

	return &CallbackResult{
		CheckoutID:    checkoutID,
		Gateway:       g.Name(),
		Success:       true,
		TransactionID: strconv.FormatInt(data.ZpTransID, 10),
		Amount:        float64(data.Amount),
		Details:       json.RawMessage(envelope.Data),
	}, nil
}

func (g *ZaloPay) AckSuccess() Ack {
	return Ack{"return_code": 1, "return_message": "success"}
}

func (g *ZaloPay) AckFailure(err error) Ack {
	if apperr.IsKind(err, apperr.KindInvalidSignature) {
		return Ack{"return_code": -1, "return_message": "mac not equal"}
	}
	return Ack{"return_code": 0, "return_message": err.Error()}
}

// parseAppTransID extracts the checkout id from the "yymmdd_<id>" ref.
func parseAppTransID(appTransID string) (int64, error) {
	_, ref, found := strings.Cut(appTransID, "_")
	if !found {
		return 0, fmt.Errorf("missing separator")
	}
	return strconv.ParseInt(ref, 10, 64)
}

func signSHA256(data, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Gateway = (*ZaloPay)(nil)
