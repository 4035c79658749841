package redsys

// NotificationParams is the decoded Ds_MerchantParameters envelope the gateway
// POSTs to the notification endpoint after processing a payment.
type NotificationParams struct {
	Date               string `json:"Ds_Date"`
	Hour               string `json:"Ds_Hour"`
	Amount             string `json:"Ds_Amount"`
	Currency           string `json:"Ds_Currency"`
	Order              string `json:"Ds_Order"`
	MerchantCode       string `json:"Ds_MerchantCode"`
	Terminal           string `json:"Ds_Terminal"`
	Response           string `json:"Ds_Response"`
	AuthorisationCode  string `json:"Ds_AuthorisationCode"`
	TransactionType    string `json:"Ds_TransactionType"`
	SecurePayment      string `json:"Ds_SecurePayment"`
	CardBrand          string `json:"Ds_Card_Brand"`
	CardCountry        string `json:"Ds_Card_Country"`
	CardNumber         string `json:"Ds_Card_Number"`
	ExpiryDate         string `json:"Ds_ExpiryDate"`
	MerchantIdentifier string `json:"Ds_Merchant_Identifier"`
	CofTxnid           string `json:"Ds_Merchant_Cof_Txnid"`
	MerchantData       string `json:"Ds_MerchantData"`
}

// LastFour returns the trailing digits of the masked card number.
func (p NotificationParams) LastFour() string {
	if len(p.CardNumber) < 4 {
		return p.CardNumber
	}
	return p.CardNumber[len(p.CardNumber)-4:]
}

// merchantRequestParams is the DS_MERCHANT_* envelope submitted on
// merchant-initiated operations. The gateway requires the uppercase key form
// on requests, unlike the Ds_ form it uses on responses.
type merchantRequestParams struct {
	Amount          string `json:"DS_MERCHANT_AMOUNT"`
	Order           string `json:"DS_MERCHANT_ORDER"`
	MerchantCode    string `json:"DS_MERCHANT_MERCHANTCODE"`
	Currency        string `json:"DS_MERCHANT_CURRENCY"`
	TransactionType string `json:"DS_MERCHANT_TRANSACTIONTYPE"`
	Terminal        string `json:"DS_MERCHANT_TERMINAL"`
	Identifier      string `json:"DS_MERCHANT_IDENTIFIER"`
	DirectPayment   string `json:"DS_MERCHANT_DIRECTPAYMENT"`
	CofIni          string `json:"DS_MERCHANT_COF_INI"`
	CofType         string `json:"DS_MERCHANT_COF_TYPE"`
	CofTxnid        string `json:"DS_MERCHANT_COF_TXNID,omitempty"`
}

// gatewayEnvelope is the signed triple exchanged with the REST endpoint in
// both directions.
type gatewayEnvelope struct {
	SignatureVersion   string `json:"Ds_SignatureVersion"`
	MerchantParameters string `json:"Ds_MerchantParameters"`
	Signature          string `json:"Ds_Signature"`
	ErrorCode          string `json:"errorCode,omitempty"`
}
