package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a monetary value as received from a recognition stage. Raw holds
// the source token when it could not be read as a number; such values are
// repaired or zeroed by the validator.
type Amount struct {
	Value float64
	Raw   string
}

// Of returns a parsed amount.
func Of(v float64) Amount {
	return Amount{Value: v}
}

// Empty reports whether the amount carries neither a value nor a raw token.
func (a Amount) Empty() bool {
	return a.Value == 0 && a.Raw == ""
}

// Parsed reports whether Value is authoritative.
func (a Amount) Parsed() bool {
	return a.Raw == ""
}

// UnmarshalJSON accepts numbers, numeric strings and null. NaN and infinite
// strings decode as an empty amount. Any other string is kept in Raw.
func (a *Amount) UnmarshalJSON(data []byte) error {
	*a = Amount{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding amount string: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			if Finite(v) {
				a.Value = v
			}
			return nil
		}
		a.Raw = s
	case 't', 'f', '{', '[':
		a.Raw = string(data)
	default:
		v, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("decoding amount number: %w", err)
		}
		a.Value = v
	}
	return nil
}

// MarshalJSON writes the numeric value, or the raw token as a string.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Raw != "" {
		return json.Marshal(a.Raw)
	}
	return json.Marshal(a.Value)
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Round2 rounds to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
