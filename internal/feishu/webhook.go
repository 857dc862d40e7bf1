package feishu

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const webhookMaxBody = 1 << 20

// WebhookHandler serves the Feishu event-subscription callback: it answers
// the url_verification handshake, optionally decrypts payloads, checks the
// verification token, and hands event envelopes to the same handler the
// long connection uses.
type WebhookHandler struct {
	verificationToken string
	encryptKey        string
	handler           WSEventHandler
}

func NewWebhookHandler(verificationToken, encryptKey string, handler WSEventHandler) *WebhookHandler {
	return &WebhookHandler{
		verificationToken: verificationToken,
		encryptKey:        encryptKey,
		handler:           handler,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	payload, err := h.decodeBody(body)
	if err != nil {
		slog.Warn("feishu webhook payload rejected", "error", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Token     string `json:"token"`
		Header    struct {
			Token string `json:"token"`
		} `json:"header"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	if probe.Type == "url_verification" {
		if !h.tokenOK(probe.Token) {
			http.Error(w, "token mismatch", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"challenge": probe.Challenge})
		return
	}

	if !h.tokenOK(probe.Header.Token) && !h.tokenOK(probe.Token) {
		http.Error(w, "token mismatch", http.StatusUnauthorized)
		return
	}

	// Ack immediately; the platform retries on slow responses and the
	// dedupe cache absorbs the duplicates either way.
	w.WriteHeader(http.StatusOK)

	// The request context dies when ServeHTTP returns, but the AI turn
	// keeps running after the ack.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := h.handler.HandleEvent(ctx, payload); err != nil {
			slog.Error("feishu webhook event handler failed", "error", err)
		}
	}()
}

func (h *WebhookHandler) tokenOK(token string) bool {
	if h.verificationToken == "" {
		return true
	}
	return token == h.verificationToken
}

// decodeBody unwraps {"encrypt": "..."} envelopes when an encrypt key is
// configured, otherwise returns the body as-is.
func (h *WebhookHandler) decodeBody(body []byte) ([]byte, error) {
	var env struct {
		Encrypt string `json:"encrypt"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Encrypt == "" {
		return body, nil
	}
	if h.encryptKey == "" {
		return nil, fmt.Errorf("encrypted payload but no encrypt key configured")
	}
	return decryptEvent(h.encryptKey, env.Encrypt)
}

// decryptEvent implements the platform's AES-256-CBC scheme: the key is
// sha256(encryptKey) and the IV is the first block of the ciphertext.
func decryptEvent(encryptKey, data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d invalid", len(raw))
	}

	key := sha256.Sum256([]byte(encryptKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	iv := raw[:aes.BlockSize]
	plain := make([]byte, len(raw)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, raw[aes.BlockSize:])

	// Strip PKCS#7 padding.
	pad := int(plain[len(plain)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(plain) {
		return nil, fmt.Errorf("invalid padding")
	}
	return plain[:len(plain)-pad], nil
}
