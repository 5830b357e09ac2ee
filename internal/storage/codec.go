package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"validator-watch/internal/debounce"
)

var (
	// ErrThresholdOutOfRange is returned for thresholds outside their bounds.
	ErrThresholdOutOfRange = errors.New("storage: threshold out of range")
	// ErrChannelNotAllowed is returned when a channel lacks verified contact details.
	ErrChannelNotAllowed = errors.New("storage: channel not allowed")
)

var (
	BalanceThresholdMin = decimal.RequireFromString("0.1")
	BalanceThresholdMax = decimal.NewFromInt(100)
	PDAThresholdMin     = decimal.RequireFromString("0.05")
	PDAThresholdMax     = decimal.NewFromInt(100)
)

// ValidateBalanceThreshold checks the identity balance threshold bounds.
func ValidateBalanceThreshold(v decimal.Decimal) error {
	return checkRange("balance", v, BalanceThresholdMin, BalanceThresholdMax)
}

// ValidatePDAThreshold checks the deposit balance threshold bounds.
func ValidatePDAThreshold(v decimal.Decimal) error {
	return checkRange("pda balance", v, PDAThresholdMin, PDAThresholdMax)
}

// thresholdArg binds an optional threshold. Zero is stored as NULL so the
// configured default applies.
func thresholdArg(v decimal.Decimal) *string {
	if v.IsZero() {
		return nil
	}
	s := v.String()
	return &s
}

// parseThreshold reads an optional threshold column. NULL yields zero.
func parseThreshold(raw *string) (decimal.Decimal, error) {
	if raw == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}

func checkRange(name string, v, lo, hi decimal.Decimal) error {
	if v.LessThan(lo) || v.GreaterThan(hi) {
		return fmt.Errorf("%w: %s threshold %s not within [%s, %s]", ErrThresholdOutOfRange, name, v, lo, hi)
	}
	return nil
}

// Validate enforces that contact-based channels have verified details on file.
func (c Channels) Validate(sub Subscriber) error {
	if c.WhatsApp {
		return fmt.Errorf("%w: whatsapp is not available", ErrChannelNotAllowed)
	}
	if (c.SMS || c.Call) && !sub.HasPhone() {
		return fmt.Errorf("%w: sms and call need a verified phone number", ErrChannelNotAllowed)
	}
	if c.Email && !sub.HasEmail() {
		return fmt.Errorf("%w: email needs a verified address", ErrChannelNotAllowed)
	}
	return nil
}

// decodeFlags parses a JSONB debounce map. Every value must be a boolean.
func decodeFlags(raw []byte) (debounce.Flags, error) {
	flags := debounce.Flags{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return flags, nil
	}

	var loose map[string]json.RawMessage
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, fmt.Errorf("decode debounce flags: %w", err)
	}
	for id, value := range loose {
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return nil, fmt.Errorf("decode debounce flag for %q: value %s is not a boolean", id, value)
		}
		flags[id] = b
	}
	return flags, nil
}

func encodeFlags(flags debounce.Flags) ([]byte, error) {
	if flags == nil {
		flags = debounce.Flags{}
	}
	out, err := json.Marshal(map[string]bool(flags))
	if err != nil {
		return nil, fmt.Errorf("encode debounce flags: %w", err)
	}
	return out, nil
}
