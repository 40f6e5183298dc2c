// Package phone canonicalizes user-entered phone numbers into +<countrycode><subscriber> form.
//
// Normalization never fails: malformed input still yields a syntactically valid
// canonical string, which may be semantically wrong.
package phone

import (
	"log/slog"
	"regexp"
	"strings"
)

// Defaults for the Korean demo deployment.
const (
	// DefaultCountryCode is prepended when a number carries no recognized country code.
	DefaultCountryCode = "82"
	// DefaultTrunkPrefix is the domestic dialing prefix replaced by the country code.
	DefaultTrunkPrefix = "0"
)

// DefaultRecognizedCodes lists the country codes left untouched when already present.
var DefaultRecognizedCodes = []string{"82", "1"}

var nonDigitRegex = regexp.MustCompile(`\D`)

// Normalizer holds the country-code rules applied by Normalize.
type Normalizer struct {
	CountryCode     string
	TrunkPrefix     string
	RecognizedCodes []string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithCountryCode overrides the default country code. The code is also treated as recognized.
func WithCountryCode(code string) Option {
	return func(n *Normalizer) {
		code = nonDigitRegex.ReplaceAllString(code, "")
		if code != "" {
			n.CountryCode = code
		}
	}
}

// WithRecognizedCodes replaces the list of country codes considered already international.
func WithRecognizedCodes(codes ...string) Option {
	return func(n *Normalizer) { n.RecognizedCodes = append([]string(nil), codes...) }
}

// NewNormalizer builds a Normalizer from the defaults plus the given options.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		CountryCode:     DefaultCountryCode,
		TrunkPrefix:     DefaultTrunkPrefix,
		RecognizedCodes: append([]string(nil), DefaultRecognizedCodes...),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts raw into canonical +<digits> form.
func (n *Normalizer) Normalize(raw string) string {
	cleaned := nonDigitRegex.ReplaceAllString(raw, "")

	if n.TrunkPrefix != "" && strings.HasPrefix(cleaned, n.TrunkPrefix) {
		cleaned = n.CountryCode + strings.TrimPrefix(cleaned, n.TrunkPrefix)
	}

	if !n.hasRecognizedCode(cleaned) {
		cleaned = n.CountryCode + cleaned
	}

	canonical := "+" + cleaned
	if canonical != raw {
		slog.Debug("Normalizer.Normalize: canonicalized phone number", "original", raw, "canonical", canonical)
	}
	return canonical
}

func (n *Normalizer) hasRecognizedCode(digits string) bool {
	if strings.HasPrefix(digits, n.CountryCode) {
		return true
	}
	for _, code := range n.RecognizedCodes {
		if code != "" && strings.HasPrefix(digits, code) {
			return true
		}
	}
	return false
}

var defaultNormalizer = NewNormalizer()

// Normalize canonicalizes raw with the default rules.
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}
