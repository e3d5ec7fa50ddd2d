package accessory

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Document is a decoded JSON status body.
type Document map[string]any

// maxDocumentSize caps status bodies read from devices.
const maxDocumentSize = 1 << 20

// DecodeDocument reads one JSON object. Numbers are kept as json.Number so
// their text survives string comparison.
func DecodeDocument(r io.Reader) (Document, error) {
	dec := json.NewDecoder(io.LimitReader(r, maxDocumentSize))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decoding status body: %w", ErrInvalidValue, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: status body is not an object", ErrInvalidValue)
	}
	return doc, nil
}

// ExtractBool compares doc[field] against the ON and OFF literals.
//
// Scalars are compared by their text, so {"POWER":"ON"} and {"state":1}
// both work. When offValue is empty every value other than onValue reads
// as off.
func ExtractBool(doc Document, field, onValue, offValue string) (bool, error) {
	raw, ok := doc[field]
	if !ok || raw == nil {
		return false, fmt.Errorf("%w: %q", ErrFieldMissing, field)
	}

	text, ok := scalarText(raw)
	if !ok {
		return false, fmt.Errorf("%w: %q is not a scalar", ErrInvalidValue, field)
	}

	switch {
	case text == onValue:
		return true, nil
	case offValue == "" || text == offValue:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q=%q", ErrUnrecognisedValue, field, text)
	}
}

// ExtractNumber reads doc[field] as a finite number. Numeric strings are accepted.
func ExtractNumber(doc Document, field string) (float64, error) {
	raw, ok := doc[field]
	if !ok || raw == nil {
		return 0, fmt.Errorf("%w: %q", ErrFieldMissing, field)
	}

	var text string
	switch v := raw.(type) {
	case json.Number:
		text = v.String()
	case float64:
		return finite(field, v)
	case string:
		text = strings.TrimSpace(v)
	default:
		return 0, fmt.Errorf("%w: %q has type %T", ErrInvalidValue, field, raw)
	}

	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q=%q", ErrInvalidValue, field, text)
	}
	return finite(field, n)
}

// ParseSwitchPayload reads a message bus switch payload: "1" is on, "0" is off.
func ParseSwitchPayload(payload []byte) (bool, error) {
	switch strings.TrimSpace(string(payload)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: switch payload %q", ErrUnrecognisedValue, payload)
	}
}

// ParseNumberPayload reads a message bus sensor payload holding a bare number.
func ParseNumberPayload(payload []byte) (float64, error) {
	text := strings.TrimSpace(string(payload))
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: payload %q", ErrInvalidValue, text)
	}
	return finite("payload", n)
}

// SwitchPayload is the message bus payload for a desired switch state.
func SwitchPayload(on bool) []byte {
	if on {
		return []byte("1")
	}
	return []byte("0")
}

func scalarText(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

func finite(field string, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrInvalidValue, field)
	}
	return v, nil
}
