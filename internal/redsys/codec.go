package redsys

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/mtorresdev/molino-backend/pkg/config"
	pkgerrors "github.com/mtorresdev/molino-backend/pkg/errors"
)

// SignatureVersion is the only signature scheme the gateway currently emits.
const SignatureVersion = "HMAC_SHA256_V1"

// Codec signs and verifies the gateway's merchant-parameter envelopes. The
// merchant secret is resolved once at construction so request handling never
// touches process environment state.
type Codec struct {
	secretKey []byte
}

// NewCodec resolves the environment-selected merchant key from the config.
// A missing or malformed key is fatal for the calling service.
func NewCodec(cfg config.RedsysConfig) (*Codec, error) {
	key, err := cfg.SecretKey()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfig, err, "resolve merchant secret key")
	}
	if len(key) != 24 {
		return nil, pkgerrors.New(pkgerrors.CodeConfig, "merchant secret key must decode to 24 bytes")
	}
	return &Codec{secretKey: key}, nil
}

// DecodeMerchantParams base64-decodes and unmarshals a notification envelope.
func (c *Codec) DecodeMerchantParams(paramsB64 string) (*NotificationParams, error) {
	raw, err := decodeBase64(paramsB64)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "merchant parameters are not valid base64")
	}
	var params NotificationParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "merchant parameters are not valid JSON")
	}
	return &params, nil
}

// VerifySignature checks the HMAC over the raw base64 parameter string against
// the provided signature. It returns a plain verdict: any malformed input or
// mismatch is false, never an error, so callers cannot forget to handle it.
func (c *Codec) VerifySignature(paramsB64, signatureB64 string) bool {
	if paramsB64 == "" || signatureB64 == "" {
		return false
	}
	params, err := c.DecodeMerchantParams(paramsB64)
	if err != nil || params.Order == "" {
		return false
	}
	expected, err := c.sign(paramsB64, params.Order)
	if err != nil {
		return false
	}
	provided, err := decodeBase64(signatureB64)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}

// Sign produces the base64 signature for an already-encoded parameter blob.
// Used when building outbound merchant-initiated requests.
func (c *Codec) Sign(paramsB64, order string) (string, error) {
	mac, err := c.sign(paramsB64, order)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(mac), nil
}

func (c *Codec) sign(paramsB64, order string) ([]byte, error) {
	orderKey, err := c.deriveOrderKey(order)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, orderKey)
	mac.Write([]byte(paramsB64))
	return mac.Sum(nil), nil
}

// deriveOrderKey diversifies the merchant key per order: the order number is
// zero-padded to the 3DES block size and encrypted in CBC mode with a zero IV.
func (c *Codec) deriveOrderKey(order string) ([]byte, error) {
	block, err := des.NewTripleDESCipher(c.secretKey)
	if err != nil {
		return nil, err
	}
	plaintext := zeroPad([]byte(order), des.BlockSize)
	iv := make([]byte, des.BlockSize)
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

func zeroPad(data []byte, blockSize int) []byte {
	if rem := len(data) % blockSize; rem != 0 {
		padded := make([]byte, len(data)+blockSize-rem)
		copy(padded, data)
		return padded
	}
	return data
}

// decodeBase64 accepts both the standard and URL-safe alphabets, padded or
// not; the gateway mixes them between the redirect and REST flows.
func decodeBase64(value string) ([]byte, error) {
	normalized := strings.ReplaceAll(strings.ReplaceAll(value, "-", "+"), "_", "/")
	if rem := len(normalized) % 4; rem != 0 {
		normalized += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(normalized)
}

// EncodeParams marshals and base64-encodes an arbitrary parameter envelope.
func encodeParams(params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
