package accessory

import "errors"

// Domain errors for the accessory package.
//
// Check them with errors.Is:
//
//	if errors.Is(err, accessory.ErrCommandNotConfigured) {
//	    // refuse the host request
//	}
var (
	// ErrCommandNotConfigured is returned by SetState when the accessory has
	// neither both HTTP command URLs nor an MQTT command topic. Nothing is
	// written and nothing is sent.
	ErrCommandNotConfigured = errors.New("accessory: command endpoints not configured")

	// ErrTransport wraps HTTP and MQTT failures while polling or dispatching.
	ErrTransport = errors.New("accessory: transport failed")

	// ErrFieldMissing is returned when a status document lacks a configured field.
	ErrFieldMissing = errors.New("accessory: field missing")

	// ErrInvalidValue is returned when a field or payload is not a usable number.
	ErrInvalidValue = errors.New("accessory: invalid value")

	// ErrUnrecognisedValue is returned when a switch status matches neither
	// the ON nor the OFF literal. The state is left unchanged.
	ErrUnrecognisedValue = errors.New("accessory: unrecognised value")

	// ErrUnknownField is returned by Store.Set for a field it does not hold.
	ErrUnknownField = errors.New("accessory: unknown field")

	// ErrNotFound is returned by a StateRepository with no saved state.
	ErrNotFound = errors.New("accessory: not found")
)
