// Package privacylog keeps key material out of logs and replaces account
// identifiers with per-process fingerprints.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

var (
	bootNonce = randomNonce()

	// Any key containing one of these is dropped to redactedValue.
	sensitiveKeyParts = []string{
		"seed",
		"mnemonic",
		"private_key",
		"passphrase",
		"password",
		"secret",
		"token",
		"authorization",
	}
	// Keys whose values identify a wallet; logged as <key>_fp.
	fingerprintKeys = map[string]struct{}{
		"address":    {},
		"public_key": {},
		"pub_key":    {},
	}
)

type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, SanitizeAttr(attr))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(out)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr applies the redaction rules to attr and, for groups, to every
// nested attribute.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	attr.Value = attr.Value.Resolve()
	lowerKey := strings.ToLower(strings.TrimSpace(attr.Key))
	switch {
	case isSensitiveKey(lowerKey):
		return slog.String(attr.Key, redactedValue)
	case isFingerprintKey(lowerKey):
		return slog.String(fingerprintKeyName(attr.Key), Fingerprint(valueToString(attr.Value)))
	case attr.Value.Kind() == slog.KindGroup:
		nested := attr.Value.Group()
		out := make([]any, 0, len(nested))
		for _, a := range nested {
			out = append(out, SanitizeAttr(a))
		}
		return slog.Group(attr.Key, out...)
	}
	return attr
}

// Fingerprint returns a short stable-per-process digest of value.
func Fingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootNonce))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func isFingerprintKey(key string) bool {
	if _, ok := fingerprintKeys[key]; ok {
		return true
	}
	return strings.HasSuffix(key, "_address")
}

func fingerprintKeyName(key string) string {
	if strings.HasSuffix(strings.ToLower(key), "_fp") {
		return key
	}
	return key + "_fp"
}

func isSensitiveKey(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func valueToString(v slog.Value) string {
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return fmt.Sprint(v.Any())
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "fallback_nonce"
	}
	return hex.EncodeToString(buf)
}
