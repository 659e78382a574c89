package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/razorpay"
	"github.com/ManuelReschke/PayFox/internal/pkg/realtime"
	"github.com/ManuelReschke/PayFox/internal/pkg/reconcile"
	"github.com/ManuelReschke/PayFox/internal/pkg/router"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

const (
	testSecret        = "whsec_test"
	testKeySecret     = "key_secret_test"
	testAdminPassword = "s3cret"
)

type server struct {
	app       *fiber.App
	repos     *repository.Repositories
	queue     *jobqueue.Queue
	processor *webhook.Processor
}

func newServer(t *testing.T, statusTimeout time.Duration) *server {
	t.Helper()
	return newServerWithGate(t, statusTimeout, nil)
}

// newServerWithGate swaps the duplicate pre-check; nil keeps the real one.
func newServerWithGate(t *testing.T, statusTimeout time.Duration, gate webhook.DuplicateChecker) *server {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repos := repository.NewRepositories(dbtest.Open(t))
	queue := jobqueue.NewQueue(client, jobqueue.Options{Name: "payment-webhook", MaxAttempts: 5})
	hub := realtime.NewHub()
	service := reconcile.NewService(repos, hub, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
	require.NoError(t, err)

	if gate == nil {
		gate = webhook.NewGate(repos.Payment, repos.Purchase, repos.Transaction)
	}
	intake := webhook.NewIntake(testSecret, gate, queue)
	intake.SetGateTimeout(100 * time.Millisecond)
	app := fiber.New()
	router.InstallRouter(app, router.Dependencies{
		Webhook:           controllers.NewWebhookController(intake, queue, true),
		Payment:           controllers.NewPaymentController(repos, service, testKeySecret, statusTimeout),
		PaymentLog:        controllers.NewPaymentLogController(repos.PaymentLog, repos.Transaction),
		Admin:             controllers.NewAdminQueueController(queue),
		Realtime:          controllers.NewRealtimeController(hub),
		AdminUser:         "admin",
		AdminPasswordHash: string(hash),
	})

	return &server{
		app:       app,
		repos:     repos,
		queue:     queue,
		processor: webhook.NewProcessor(testSecret, service, repos.PaymentLog),
	}
}

func (s *server) do(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := map[string]interface{}{}
	if len(raw) > 0 && strings.Contains(resp.Header.Get(fiber.HeaderContentType), "json") {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp.StatusCode, body
}

func jsonRequest(method, target string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func webhookRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(controllers.SignatureHeader, signature)
	}
	return req
}

func capturedBody(eventID string) []byte {
	return []byte(fmt.Sprintf(`{"event":{"id":%q,"event":"payment.captured","created_at":1735725600},`+
		`"payload":{"payment":{"entity":{"id":"pay_1","amount":50000,"currency":"INR","status":"captured",`+
		`"order_id":"order_123","method":"upi"}}}}`, eventID))
}

func sign(body []byte) string {
	return razorpay.ComputeSignature(body, testSecret)
}

func validOrder() map[string]interface{} {
	return map[string]interface{}{
		"orderId":         "ORD123",
		"customerName":    "Jane Doe",
		"customerEmail":   "jane@example.com",
		"customerPhone":   "9876543210",
		"amount":          "500.00",
		"razorpayOrderId": "order_123",
		"items":           []map[string]interface{}{{"name": "Mug", "quantity": 1, "price": "500.00"}},
	}
}

func (s *server) createOrder(t *testing.T) {
	t.Helper()
	status, body := s.do(t, jsonRequest(http.MethodPost, "/api/payment/create-order", validOrder()))
	require.Equal(t, fiber.StatusCreated, status, body)
}

func TestWebhook_Responses(t *testing.T) {
	s := newServer(t, time.Second)
	body := capturedBody("evt_1")
	malformed := []byte(`{"event":{"id":"evt_x"}}`)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantError  string
	}{
		{"missing signature", webhookRequest(body, ""), fiber.StatusBadRequest, "missing_signature"},
		{"invalid json", webhookRequest([]byte(`{oops`), sign([]byte(`{oops`))), fiber.StatusBadRequest, "invalid_json"},
		{"wrong signature", webhookRequest(body, sign([]byte("x"))), fiber.StatusUnauthorized, "invalid_signature"},
		{"malformed envelope", webhookRequest(malformed, sign(malformed)), fiber.StatusBadRequest, "malformed_payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := s.do(t, tt.req)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantError, resp["error"])
		})
	}

	stats, err := s.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Waiting, "rejected webhooks never reach the queue")
}

func TestWebhook_QueuesThenDeduplicates(t *testing.T) {
	s := newServer(t, time.Second)
	s.createOrder(t)
	body := capturedBody("evt_1")

	status, resp := s.do(t, webhookRequest(body, sign(body)))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "Webhook queued for processing", resp["message"])
	assert.Equal(t, "payment.captured", resp["event"])
	assert.NotEmpty(t, resp["jobId"])

	ok, err := s.queue.ProcessNext(context.Background(), s.processor)
	require.NoError(t, err)
	require.True(t, ok)

	status, resp = s.do(t, webhookRequest(body, sign(body)))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Duplicate event ignored", resp["message"])
	assert.Nil(t, resp["jobId"])

	status, resp = s.do(t, httptest.NewRequest(http.MethodGet, "/status/ORD123", nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "completed", resp["status"])
	assert.Equal(t, "pay_1", resp["paymentId"])

	status, resp = s.do(t, httptest.NewRequest(http.MethodGet, "/api/orders/ORD123/transactions", nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, resp["transactions"], 1)
}

func TestCreateOrder(t *testing.T) {
	s := newServer(t, time.Second)

	bad := validOrder()
	bad["customerPhone"] = "12345"
	status, resp := s.do(t, jsonRequest(http.MethodPost, "/api/payment/create-order", bad))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", resp["error"])

	zero := validOrder()
	zero["amount"] = "0"
	status, _ = s.do(t, jsonRequest(http.MethodPost, "/api/payment/create-order", zero))
	assert.Equal(t, fiber.StatusBadRequest, status)

	generated := validOrder()
	delete(generated, "orderId")
	status, resp = s.do(t, jsonRequest(http.MethodPost, "/api/payment/create-order", generated))
	require.Equal(t, fiber.StatusCreated, status)
	order := resp["order"].(map[string]interface{})
	assert.Regexp(t, `^ORD\d{13}$`, order["orderId"])
	assert.Equal(t, "pending", order["paymentStatus"])

	s.createOrder(t)
	status, _ = s.do(t, jsonRequest(http.MethodPost, "/api/payment/create-order", validOrder()))
	assert.Equal(t, fiber.StatusConflict, status)

	status, resp = s.do(t, httptest.NewRequest(http.MethodGet, "/api/payment/logs/ORD123", nil))
	require.Equal(t, fiber.StatusOK, status)
	logs := resp["data"].([]interface{})
	require.Len(t, logs, 1)
	assert.Equal(t, "order_created", logs[0].(map[string]interface{})["event_type"])
}

func TestStatus(t *testing.T) {
	s := newServer(t, time.Second)
	s.createOrder(t)

	status, resp := s.do(t, httptest.NewRequest(http.MethodGet, "/api/payment/status/order_123", nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ORD123", resp["orderId"])
	assert.Equal(t, "pending", resp["status"])

	status, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/payment/status/ORD404", nil))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, resp = s.do(t, httptest.NewRequest(http.MethodGet, "/api/payment/check-status/ORD123", nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, resp["payments"])
}

func TestStatus_SlowStoreAsksClientToRetry(t *testing.T) {
	s := newServer(t, time.Nanosecond)

	status, resp := s.do(t, httptest.NewRequest(http.MethodGet, "/api/payment/status/ORD123", nil))
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, float64(5), resp["retryAfter"])
}

func TestCompletePayment(t *testing.T) {
	s := newServer(t, time.Second)
	s.createOrder(t)

	status, resp := s.do(t, jsonRequest(http.MethodPost, "/api/payment/complete-payment/ORD123", map[string]string{"method": "card"}))
	require.Equal(t, fiber.StatusOK, status)
	order := resp["order"].(map[string]interface{})
	assert.Equal(t, "completed", order["paymentStatus"])

	status, _ = s.do(t, jsonRequest(http.MethodPost, "/api/payment/complete-payment/ORD123", nil))
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = s.do(t, jsonRequest(http.MethodPost, "/api/payment/complete-payment/ORD404", nil))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, resp = s.do(t, httptest.NewRequest(http.MethodGet, "/api/payment/logs?source=manual", nil))
	require.Equal(t, fiber.StatusOK, status)
	pagination := resp["pagination"].(map[string]interface{})
	assert.Equal(t, float64(1), pagination["total"])
}

func TestPaymentLogs_RejectsBadDates(t *testing.T) {
	s := newServer(t, time.Second)
	status, _ := s.do(t, httptest.NewRequest(http.MethodGet, "/api/payment/logs?startDate=yesterday", nil))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestWebhookStatus(t *testing.T) {
	s := newServer(t, time.Second)
	status, resp := s.do(t, httptest.NewRequest(http.MethodGet, "/api/payment/webhook-status", nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, resp["webhookSecretConfigured"])
	assert.Equal(t, controllers.SignatureHeader, resp["signatureHeader"])
	queue := resp["queue"].(map[string]interface{})
	assert.Equal(t, true, queue["available"])
}

func TestAdminQueue(t *testing.T) {
	s := newServer(t, time.Second)
	ctx := context.Background()

	status, _ := s.do(t, httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil))
	assert.Equal(t, fiber.StatusUnauthorized, status)

	authed := func(method, target string) *http.Request {
		req := httptest.NewRequest(method, target, nil)
		req.SetBasicAuth("admin", testAdminPassword)
		return req
	}

	wrong := httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil)
	wrong.SetBasicAuth("admin", "guess")
	status, _ = s.do(t, wrong)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	// A forged job fails permanently on its first attempt.
	body := capturedBody("evt_1")
	job, err := s.queue.Enqueue(ctx, webhook.JobName, webhook.Payload{RawEvent: string(body), Signature: "00"})
	require.NoError(t, err)
	_, err = s.queue.ProcessNext(ctx, s.processor)
	require.NoError(t, err)

	status, resp := s.do(t, authed(http.MethodGet, "/admin/queue/stats"))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), resp["failed"])

	status, resp = s.do(t, authed(http.MethodGet, "/admin/queue/failed"))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), resp["count"])

	status, _ = s.do(t, authed(http.MethodPost, "/admin/queue/jobs/"+job.ID+"/retry"))
	require.Equal(t, fiber.StatusOK, status)

	status, _ = s.do(t, authed(http.MethodPost, "/admin/queue/jobs/"+job.ID+"/retry"))
	assert.Equal(t, fiber.StatusNotFound, status)

	stats, err := s.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
}

func TestRealtimeRoomSize(t *testing.T) {
	s := newServer(t, time.Second)
	status, resp := s.do(t, httptest.NewRequest(http.MethodGet, "/api/realtime/rooms/ORD123", nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), resp["clients"])

	status, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, fiber.StatusUpgradeRequired, status)
}

// stuckGate never answers before its deadline.
type stuckGate struct{}

func (stuckGate) Seen(ctx context.Context, _ razorpay.Event) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestWebhook_SlowDuplicateCheckStillAcknowledges(t *testing.T) {
	s := newServerWithGate(t, time.Second, stuckGate{})
	body := capturedBody("evt_slow")

	status, resp := s.do(t, webhookRequest(body, sign(body)))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Webhook queued for processing", resp["message"])
	assert.NotEmpty(t, resp["jobId"])
}

func TestVerifyPayment(t *testing.T) {
	s := newServer(t, time.Second)
	s.createOrder(t)
	goodSig := razorpay.ComputeSignature([]byte("order_123|pay_7"), testKeySecret)

	tests := []struct {
		name       string
		body       map[string]interface{}
		wantStatus int
		wantError  string
	}{
		{"missing fields", map[string]interface{}{"razorpay_order_id": "order_123"}, fiber.StatusBadRequest, "validation_failed"},
		{"bad signature", map[string]interface{}{
			"razorpay_order_id": "order_123", "razorpay_payment_id": "pay_7", "razorpay_signature": "deadbeef",
		}, fiber.StatusBadRequest, "invalid_signature"},
		{"signed for another payment", map[string]interface{}{
			"razorpay_order_id": "order_123", "razorpay_payment_id": "pay_8", "razorpay_signature": goodSig,
		}, fiber.StatusBadRequest, "invalid_signature"},
		{"unknown order", map[string]interface{}{
			"razorpay_order_id": "order_123", "razorpay_payment_id": "pay_7", "razorpay_signature": goodSig, "orderId": "ORD404",
		}, fiber.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := s.do(t, jsonRequest(http.MethodPost, "/api/payment/verify", tt.body))
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantError, resp["error"])
		})
	}

	status, resp := s.do(t, jsonRequest(http.MethodPost, "/api/payment/verify", map[string]interface{}{
		"razorpay_order_id": "order_123", "razorpay_payment_id": "pay_7", "razorpay_signature": goodSig, "orderId": "ORD123",
	}))
	require.Equal(t, fiber.StatusOK, status, resp)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, true, resp["verified"])
	assert.Equal(t, "pending", resp["paymentStatus"], "only the captured webhook completes an order")

	order, err := s.repos.Order.GetByOrderID(context.Background(), "ORD123")
	require.NoError(t, err)
	assert.Equal(t, "pay_7", order.PaymentID)

	_, total, err := s.repos.PaymentLog.List(context.Background(), repository.PaymentLogFilter{OrderID: "ORD123", EventType: "client_verified"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
