// Package translate defines the translation collaborator contract and the
// HTTP adapter for a LibreTranslate-compatible backend. Translation is best
// effort: callers fall back to a tagged copy of the original text whenever
// the backend fails or times out.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tandem/lingua-app/internal/apperr"
)

// Translator converts text into the target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Fallback returns the deterministic degraded translation used when the
// backend is unavailable: the target language code tag followed by the
// untranslated text.
func Fallback(targetLang, text string) string {
	return fmt.Sprintf("[%s] %s", targetLang, text)
}

// HTTPTranslator calls a JSON translation endpoint. Every request is bounded
// by Timeout so the message pipeline can never block indefinitely on the
// backend.
type HTTPTranslator struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewHTTPTranslator creates an adapter for the given endpoint URL.
func NewHTTPTranslator(endpoint string, timeout time.Duration) *HTTPTranslator {
	return &HTTPTranslator{
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

type translateRequest struct {
	Q      string `json:"q"`
	Target string `json:"target"`
	Format string `json:"format"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// Translate posts the text to the backend and returns the translated form.
func (t *HTTPTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	body, err := json.Marshal(translateRequest{Q: text, Target: targetLang, Format: "text"})
	if err != nil {
		return "", apperr.External("translate: encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperr.External("translate: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", apperr.External("translate: request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", apperr.External(fmt.Sprintf("translate: backend returned %d", resp.StatusCode), nil)
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.External("translate: decode response", err)
	}
	if out.TranslatedText == "" {
		return "", apperr.External("translate: empty translation", nil)
	}
	return out.TranslatedText, nil
}
