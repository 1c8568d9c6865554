package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/config"
)

// PushNotifier asks an offline client to come back when someone accepted
// them.
type PushNotifier struct {
	client     *http.Client
	baseURL    string
	topic      string
	serverName string
	attempts   int
	backoff    time.Duration
}

func NewPushNotifier(baseURL, topic, serverName string) *PushNotifier {
	return &PushNotifier{
		client:     &http.Client{Timeout: config.PushTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		topic:      topic,
		serverName: serverName,
		attempts:   config.PushAttempts,
		backoff:    config.PushRetryBackoff,
	}
}

type pushPayload struct {
	Aps        pushAps `json:"aps"`
	ServerName string  `json:"server_name"`
}

type pushAps struct {
	Alert string `json:"alert"`
	Sound string `json:"sound"`
}

// Notify posts alert to the device. Transport errors are retried with a
// fixed backoff; a response from the push service is final.
func (p *PushNotifier) Notify(ctx context.Context, deviceToken string, alert string) error {
	if _, err := hex.DecodeString(deviceToken); err != nil || deviceToken == "" {
		return fmt.Errorf("invalid device token %q", deviceToken)
	}

	body, err := json.Marshal(pushPayload{
		Aps:        pushAps{Alert: alert, Sound: "default"},
		ServerName: p.serverName,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	url := fmt.Sprintf("%s/3/device/%s", p.baseURL, deviceToken)

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		status, err := p.post(ctx, url, body)
		if err == nil {
			if status < 200 || status >= 300 {
				return fmt.Errorf("push rejected with status %d", status)
			}
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", p.backoff).Msg("push request failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff):
		}
	}
	return fmt.Errorf("push failed after %d attempts: %w", p.attempts, lastErr)
}

func (p *PushNotifier) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.topic != "" {
		req.Header.Set("apns-topic", p.topic)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
