package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/config"
	apperrors "github.com/hologram-chat/rendezvous-server/internal/errors"
)

const (
	receiptStatusOK          = 0
	receiptStatusSandbox     = 21007
	receiptStatusBadResponse = -2
)

var receiptReasons = map[int]string{
	21000: "The App Store could not read the JSON we provided",
	21002: "The data in the receipt-data property was malformed or missing",
	21003: "The receipt could not be authenticated",
	21004: "The shared secret we provided does not match the shared secret on file for our account",
	21005: "The receipt server is not currently available",
	21006: "This receipt is valid but the subscription has expired",
	21007: "The receipt is from the test environment, but it was sent to the production environment for verification",
	21008: "This receipt is from the production environment, but it was sent to the test environment for verification",

	receiptStatusBadResponse: "Bad HTTP response from payment server",
}

// ReceiptReason maps a verification status to the text shown to the client.
func ReceiptReason(status int) string {
	if reason, ok := receiptReasons[status]; ok {
		return reason
	}
	return "Unknown"
}

// ReceiptVerifier checks a reputation regeneration purchase with the
// store. Production is tried first; receipts from the test environment
// are redirected to the sandbox.
type ReceiptVerifier struct {
	client     *http.Client
	url        string
	sandboxURL string
}

func NewReceiptVerifier(url, sandboxURL string) *ReceiptVerifier {
	return &ReceiptVerifier{
		client:     &http.Client{Timeout: config.ReceiptTimeout},
		url:        url,
		sandboxURL: sandboxURL,
	}
}

type receiptRequest struct {
	ReceiptData string `json:"receipt-data"`
}

type receiptResponse struct {
	Status *int `json:"status"`
}

// Verify returns nil for a valid receipt and a *errors.VerificationError
// otherwise.
func (v *ReceiptVerifier) Verify(ctx context.Context, receipt []byte) error {
	status, err := v.post(ctx, v.url, receipt)
	if err == nil && status == receiptStatusSandbox && v.sandboxURL != "" {
		log.Debug().Msg("receipt is from the test environment, retrying against the sandbox")
		status, err = v.post(ctx, v.sandboxURL, receipt)
	}
	if err != nil {
		log.Error().Err(err).Msg("receipt verification request failed")
		return &apperrors.VerificationError{Status: receiptStatusBadResponse, Reason: ReceiptReason(receiptStatusBadResponse)}
	}
	if status != receiptStatusOK {
		return &apperrors.VerificationError{Status: status, Reason: ReceiptReason(status)}
	}
	return nil
}

func (v *ReceiptVerifier) post(ctx context.Context, url string, receipt []byte) (int, error) {
	body, err := json.Marshal(receiptRequest{ReceiptData: base64.StdEncoding.EncodeToString(receipt)})
	if err != nil {
		return 0, fmt.Errorf("marshal receipt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("verify receipt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("verify receipt: status %d", resp.StatusCode)
	}

	var parsed receiptResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode verification response: %w", err)
	}
	if parsed.Status == nil {
		return 0, fmt.Errorf("verification response has no status")
	}

	log.Debug().
		Str("url", url).
		Int("status", *parsed.Status).
		Dur("elapsed", time.Since(start)).
		Msg("receipt verified")
	return *parsed.Status, nil
}
