// Package validation holds the struct validator shared by configuration and
// the HTTP API, with Gatekeeper's custom tags, and the constructor assertions
// used for mandatory dependencies.
package validation

import (
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Custom tags registered by New.
const (
	// TagSHA256Hex accepts a lowercase or uppercase hex SHA-256 digest, the
	// form of API key hashes and ruleset checksums.
	TagSHA256Hex = "sha256hex"

	// TagRedisKey accepts a Redis key without whitespace or control
	// characters, at most 512 bytes long.
	TagRedisKey = "rediskey"

	// TagIdentifier accepts user and plan identifiers: printable, no
	// whitespace, no '/'. They appear in URL paths and cache keys.
	TagIdentifier = "identifier"
)

const maxRedisKeyLen = 512

// New returns a validator with Gatekeeper's custom tags registered. The
// result is safe for concurrent use.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	mustRegister(v, TagSHA256Hex, func(fl validator.FieldLevel) bool {
		return IsSHA256Hex(fl.Field().String())
	})
	mustRegister(v, TagRedisKey, func(fl validator.FieldLevel) bool {
		key := fl.Field().String()
		return key != "" && len(key) <= maxRedisKeyLen && !strings.ContainsFunc(key, invalidKeyRune)
	})
	mustRegister(v, TagIdentifier, func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		return id != "" && !strings.ContainsFunc(id, invalidIdentifierRune)
	})

	return v
}

// IsSHA256Hex reports whether s is a hex-encoded SHA-256 digest.
func IsSHA256Hex(s string) bool {
	if len(s) != hex.EncodedLen(32) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func invalidKeyRune(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}

func invalidIdentifierRune(r rune) bool {
	return r == '/' || invalidKeyRune(r) || !unicode.IsPrint(r)
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic("validation: register " + tag + ": " + err.Error())
	}
}
