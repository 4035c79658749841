package webhooks

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mtorresdev/molino-backend/api/middleware"
	"github.com/mtorresdev/molino-backend/internal/ledger"
	"github.com/mtorresdev/molino-backend/internal/orders"
	"github.com/mtorresdev/molino-backend/internal/redsys"
	redsyswebhook "github.com/mtorresdev/molino-backend/internal/webhooks/redsys"
	"github.com/mtorresdev/molino-backend/pkg/config"
	"github.com/mtorresdev/molino-backend/pkg/db/models"
	"github.com/mtorresdev/molino-backend/pkg/enums"
	"github.com/mtorresdev/molino-backend/pkg/logger"
)

type controllerFixture struct {
	db      *gorm.DB
	codec   *redsys.Codec
	handler http.HandlerFunc
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	ddl := `
CREATE TABLE IF NOT EXISTS payment_transactions (
  id TEXT PRIMARY KEY,
  gateway_order TEXT NOT NULL UNIQUE,
  context TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT '978',
  order_id TEXT,
  subscription_id TEXT,
  response_code TEXT,
  authorization_code TEXT,
  card_brand TEXT,
  card_country TEXT,
  last_four TEXT,
  recurring_token TEXT,
  cof_transaction_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS shop_orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending_payment',
  total NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT '978',
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(ddl).Error)

	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdefghijklmn"))
	codec, err := redsys.NewCodec(config.RedsysConfig{Env: "test", SecretKeyTest: key})
	require.NoError(t, err)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(db))
	require.NoError(t, err)

	logg := logger.New(logger.Options{ServiceName: "webhooks-test"})
	svc, err := redsyswebhook.NewService(redsyswebhook.ServiceParams{
		Codec:  codec,
		Ledger: ledgerSvc,
		Orders: orders.NewRepository(db),
		Logger: logg,
	})
	require.NoError(t, err)

	return &controllerFixture{
		db:      db,
		codec:   codec,
		handler: RedsysNotification(svc, nil, logg),
	}
}

func (f *controllerFixture) signedTriple(t *testing.T, order, responseCode string) (string, string) {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"Ds_Order":    order,
		"Ds_Response": responseCode,
	})
	require.NoError(t, err)
	paramsB64 := base64.StdEncoding.EncodeToString(raw)
	signature, err := f.codec.Sign(paramsB64, order)
	require.NoError(t, err)
	return paramsB64, signature
}

func (f *controllerFixture) seedPending(t *testing.T, order string) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.PaymentTransaction{
		ID:           uuid.New(),
		GatewayOrder: order,
		Context:      enums.PaymentContextMembership,
		Status:       enums.PaymentStatusPending,
		Amount:       decimal.RequireFromString("9.99"),
	}).Error)
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRedsysNotificationFormBody(t *testing.T) {
	f := newControllerFixture(t)
	f.seedPending(t, "250101FORMAA")
	paramsB64, signature := f.signedTriple(t, "250101FORMAA", "0000")

	form := url.Values{}
	form.Set("Ds_SignatureVersion", "HMAC_SHA256_V1")
	form.Set("Ds_MerchantParameters", paramsB64)
	form.Set("Ds_Signature", signature)

	req := httptest.NewRequest(http.MethodPost, "/payments/notification", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeAck(t, rec)["status"])
}

func TestRedsysNotificationJSONBody(t *testing.T) {
	f := newControllerFixture(t)
	f.seedPending(t, "250101JSONAA")
	paramsB64, signature := f.signedTriple(t, "250101JSONAA", "0000")

	payload, err := json.Marshal(map[string]string{
		"Ds_SignatureVersion":   "HMAC_SHA256_V1",
		"Ds_MerchantParameters": paramsB64,
		"Ds_Signature":          signature,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/payments/notification", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeAck(t, rec)["status"])
}

func TestRedsysNotificationAnomaliesStillAcknowledge(t *testing.T) {
	f := newControllerFixture(t)
	f.seedPending(t, "250101ANOMAA")
	paramsB64, _ := f.signedTriple(t, "250101ANOMAA", "0000")

	cases := map[string]url.Values{
		"missing fields": {},
		"forged signature": {
			"Ds_MerchantParameters": {paramsB64},
			"Ds_Signature":          {base64.StdEncoding.EncodeToString([]byte("forged"))},
		},
		"unknown order": func() url.Values {
			p, s := f.signedTriple(t, "250101GHOSTX", "0000")
			return url.Values{"Ds_MerchantParameters": {p}, "Ds_Signature": {s}}
		}(),
	}

	for name, form := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/payments/notification", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			f.handler(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "error", decodeAck(t, rec)["status"])
		})
	}
}

func TestRedsysNotificationMalformedJSON(t *testing.T) {
	f := newControllerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/payments/notification", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", decodeAck(t, rec)["status"])
}

type panickingCodec struct{}

func (panickingCodec) DecodeMerchantParams(string) (*redsys.NotificationParams, error) {
	panic("decoder blew up")
}

func (panickingCodec) VerifySignature(string, string) bool { return true }

func TestRedsysNotificationPanicStillAcknowledges(t *testing.T) {
	f := newControllerFixture(t)

	logg := logger.New(logger.Options{ServiceName: "webhooks-test"})
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(f.db))
	require.NoError(t, err)
	svc, err := redsyswebhook.NewService(redsyswebhook.ServiceParams{
		Codec:  panickingCodec{},
		Ledger: ledgerSvc,
		Orders: orders.NewRepository(f.db),
		Logger: logg,
	})
	require.NoError(t, err)

	// Run under the router's recoverer to show the ack wins over the 500 it
	// would otherwise write.
	handler := middleware.Recoverer(logg)(RedsysNotification(svc, nil, logg))

	form := url.Values{
		"Ds_MerchantParameters": {base64.StdEncoding.EncodeToString([]byte(`{"Ds_Order":"250101PANIAA"}`))},
		"Ds_Signature":          {base64.StdEncoding.EncodeToString([]byte("sig"))},
	}
	req := httptest.NewRequest(http.MethodPost, "/payments/notification", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", decodeAck(t, rec)["status"])
}
