package redsys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mtorresdev/molino-backend/pkg/config"
	pkgerrors "github.com/mtorresdev/molino-backend/pkg/errors"
	"github.com/mtorresdev/molino-backend/pkg/logger"
)

const restChargePath = "/sis/rest/trataPeticionREST"

const (
	transactionTypeCharge = "0"
	cofTypeRecurring      = "R"
)

// ChargeRequest describes a merchant-initiated charge against a stored token.
type ChargeRequest struct {
	Order          string
	Amount         decimal.Decimal
	Currency       string
	RecurringToken string
	CofTxnid       string
}

// ChargeResponse is the synchronous gateway verdict for a charge attempt.
type ChargeResponse struct {
	ResponseCode      string
	AuthorisationCode string
	CardBrand         string
	CardCountry       string
	LastFour          string
	CofTxnid          string
}

// Authorized reports whether the gateway approved the charge.
func (r ChargeResponse) Authorized() bool {
	return IsAuthorizationSuccess(r.ResponseCode)
}

// Client performs merchant-initiated operations against the gateway's REST
// interface. Construction is explicit so the environment split (test vs
// production keys and hosts) stays in one place.
type Client struct {
	cfg        config.RedsysConfig
	codec      *Codec
	httpClient *http.Client
	logg       *logger.Logger
}

// NewClient validates the merchant configuration and builds the REST client.
func NewClient(cfg config.RedsysConfig, codec *Codec, logg *logger.Logger) (*Client, error) {
	if codec == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfig, "signature codec required")
	}
	if strings.TrimSpace(cfg.MerchantCode) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConfig, "merchant code required for gateway charges")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfig, "logger required")
	}
	return &Client{
		cfg:        cfg,
		codec:      codec,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logg:       logg,
	}, nil
}

// ChargeWithToken runs a card-on-file charge without cardholder interaction.
// A decline is not an error: the verdict comes back in ResponseCode and the
// caller classifies it. Errors are reserved for transport, protocol, and
// signature failures.
func (c *Client) ChargeWithToken(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	if req.Order == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway order required")
	}
	if req.RecurringToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recurring token required")
	}
	cents, err := amountToCents(req.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid charge amount")
	}

	currency := req.Currency
	if currency == "" {
		currency = c.cfg.CurrencyCode
	}

	params := merchantRequestParams{
		Amount:          cents,
		Order:           req.Order,
		MerchantCode:    c.cfg.MerchantCode,
		Currency:        currency,
		TransactionType: transactionTypeCharge,
		Terminal:        c.cfg.Terminal,
		Identifier:      req.RecurringToken,
		DirectPayment:   "true",
		CofIni:          "N",
		CofType:         cofTypeRecurring,
		CofTxnid:        req.CofTxnid,
	}

	paramsB64, err := encodeParams(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode charge parameters")
	}
	signature, err := c.codec.Sign(paramsB64, req.Order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sign charge parameters")
	}

	envelope, err := c.post(ctx, gatewayEnvelope{
		SignatureVersion:   SignatureVersion,
		MerchantParameters: paramsB64,
		Signature:          signature,
	})
	if err != nil {
		return nil, err
	}

	if envelope.ErrorCode != "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, fmt.Sprintf("gateway rejected request: %s", envelope.ErrorCode))
	}
	if !c.codec.VerifySignature(envelope.MerchantParameters, envelope.Signature) {
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "gateway response signature mismatch")
	}

	decoded, err := c.codec.DecodeMerchantParams(envelope.MerchantParameters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode gateway response")
	}

	return &ChargeResponse{
		ResponseCode:      decoded.Response,
		AuthorisationCode: decoded.AuthorisationCode,
		CardBrand:         decoded.CardBrand,
		CardCountry:       decoded.CardCountry,
		LastFour:          decoded.LastFour(),
		CofTxnid:          decoded.CofTxnid,
	}, nil
}

func (c *Client) post(ctx context.Context, envelope gatewayEnvelope) (*gatewayEnvelope, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal gateway request")
	}

	url := strings.TrimRight(c.cfg.BaseURL(), "/") + restChargePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "gateway unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, fmt.Sprintf("gateway returned HTTP %d", resp.StatusCode))
	}

	var out gatewayEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode gateway envelope")
	}
	return &out, nil
}

// amountToCents renders a decimal euro amount as the integer-cent string the
// gateway wire format requires.
func amountToCents(amount decimal.Decimal) (string, error) {
	if amount.IsNegative() || amount.IsZero() {
		return "", fmt.Errorf("amount must be positive, got %s", amount)
	}
	cents := amount.Shift(2)
	if !cents.IsInteger() {
		return "", fmt.Errorf("amount %s has sub-cent precision", amount)
	}
	return cents.String(), nil
}
