package tasks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jobd-io/jobd/internal/registry"
)

var webhookClient = &http.Client{}

// webhookTarget posts the configured payload to a URL with an HMAC
// signature. It demonstrates an I/O-bound target; the per-job timeout
// bounds the whole request through the invocation context.
// Params: url (required), secret, payload.
func webhookTarget(deps Deps) registry.Target {
	return func(ctx context.Context, inv registry.Invocation) (string, error) {
		url, _ := inv.Params["url"].(string)
		if url == "" {
			return "", fmt.Errorf("param url must be a non-empty string")
		}
		secret, _ := inv.Params["secret"].(string)

		body, err := json.Marshal(webhookBody{
			JobCode: inv.JobCode,
			Payload: inv.Params["payload"],
		})
		if err != nil {
			return "", fmt.Errorf("marshal payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Jobd-Job-Code", inv.JobCode)
		if secret != "" {
			req.Header.Set("X-Jobd-Signature", computeSignature(secret, body))
		}

		resp, err := webhookClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("send: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return fmt.Sprintf("status=%d", resp.StatusCode), nil
	}
}

type webhookBody struct {
	JobCode string `json:"job_code"`
	Payload any    `json:"payload,omitempty"`
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
