// Package webhook implements the inbound webhook channel: HMAC-SHA256
// signature verification on delivery and "{field.path}" template expansion
// for formatting the synchronous reply an external caller gets back.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kestrelai/conductor/internal/config"
)

// ErrBodyTooLarge is returned when an inbound request exceeds MaxBodyBytes.
var ErrBodyTooLarge = fmt.Errorf("webhook: request body exceeds configured limit")

// ErrInvalidSignature is returned when the signature header doesn't match
// the computed HMAC digest.
var ErrInvalidSignature = fmt.Errorf("webhook: invalid signature")

// VerifySignature checks that signatureHex is the hex-encoded HMAC-SHA256
// of body using secret, using a constant-time comparison.
func VerifySignature(secret string, body []byte, signatureHex string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(signatureHex))) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// ReadVerifiedBody reads r up to cfg.MaxBodyBytes, then verifies its
// signature against the header cfg names. cfg.MaxBodyBytes <= 0 means no
// limit beyond http.MaxBytesReader's own default behavior.
func ReadVerifiedBody(r *http.Request, cfg config.WebhookConfig) ([]byte, error) {
	limit := cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 256 * 1024
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("webhook: read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}

	header := cfg.SignatureHeader
	if header == "" {
		header = "X-Signature"
	}
	sig := r.Header.Get(header)
	if err := VerifySignature(cfg.Secret, body, sig); err != nil {
		return nil, err
	}
	return body, nil
}

// Payload is the parsed inbound JSON body, fields are looked up by
// dot-separated path for both routing decisions and template expansion.
type Payload map[string]any

// ParsePayload parses an inbound JSON body into a field-addressable map.
func ParsePayload(body []byte) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("webhook: parse payload: %w", err)
	}
	return p, nil
}

// Field resolves a dot-separated path (e.g. "user.id") against the payload,
// returning "" if any segment is missing or not a map/scalar.
func (p Payload) Field(path string) string {
	var current any = map[string]any(p)
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = m[segment]
		if !ok {
			return ""
		}
	}
	return fmt.Sprintf("%v", current)
}

// RenderTemplate expands "{field.path}" placeholders in template against
// fields, a lookup of named values independent of the inbound payload (the
// turn's response text, error message, and so on) consulted before falling
// back to the inbound payload itself.
func RenderTemplate(template string, fields map[string]string, payload Payload) string {
	var out strings.Builder
	out.Grow(len(template))

	i := 0
	for i < len(template) {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			out.WriteString(template[i:])
			break
		}
		out.WriteString(template[i : i+open])
		i += open

		close := strings.IndexByte(template[i:], '}')
		if close < 0 {
			out.WriteString(template[i:])
			break
		}
		path := template[i+1 : i+close]
		i += close + 1

		if v, ok := fields[path]; ok {
			out.WriteString(v)
			continue
		}
		if payload != nil {
			out.WriteString(payload.Field(path))
		}
	}
	return out.String()
}
