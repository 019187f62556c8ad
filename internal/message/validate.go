// Package message validates broadcast payloads: size, shape, and the
// recursive field-size limits that gate the publish path before fan-out.
package message

import (
	"encoding/json"
	"fmt"
)

// Limits bounds a validated message.
type Limits struct {
	MaxMessageSize int // bytes, encoded form
	MaxStringLen   int
	MaxArraySize   int
}

// DefaultLimits matches the configured defaults: 1 MiB messages, 10k
// byte strings, 1k element arrays.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageSize: 1048576,
		MaxStringLen:   10000,
		MaxArraySize:   1000,
	}
}

// Result carries the outcome of validating a raw payload.
type Result struct {
	Valid     bool
	Errors    []string
	Type      string
	SizeBytes int
}

// ControlTypes lists the transport-level control message type names, which
// carry no application semantics.
var ControlTypes = map[string]struct{}{
	"ping":        {},
	"pong":        {},
	"subscribe":   {},
	"unsubscribe": {},
}

// IsControlMessage reports whether msgType is one of ControlTypes.
func IsControlMessage(msgType string) bool {
	_, ok := ControlTypes[msgType]
	return ok
}

// Validate checks raw against limits: size first (cheapest check), then
// JSON shape, then recursive field-size checks into nested objects and
// arrays of objects.
func Validate(raw []byte, limits Limits) Result {
	size := len(raw)
	if size > limits.MaxMessageSize {
		return Result{
			Valid:     false,
			Errors:    []string{fmt.Sprintf("message size %d bytes exceeds max %d", size, limits.MaxMessageSize)},
			SizeBytes: size,
		}
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{
			Valid:     false,
			Errors:    []string{fmt.Sprintf("invalid JSON: %v", err)},
			SizeBytes: size,
		}
	}

	if len(decoded) == 0 {
		return Result{
			Valid:     false,
			Errors:    []string{"message data cannot be empty"},
			SizeBytes: size,
		}
	}

	msgType, _ := decoded["type"].(string)

	var errs []string
	validateContent(decoded, limits, "", &errs)

	return Result{
		Valid:     len(errs) == 0,
		Errors:    errs,
		Type:      msgType,
		SizeBytes: size,
	}
}

func validateContent(obj map[string]interface{}, limits Limits, path string, errs *[]string) {
	for field, value := range obj {
		fieldPath := field
		if path != "" {
			fieldPath = path + "." + field
		}
		switch v := value.(type) {
		case string:
			if len(v) > limits.MaxStringLen {
				*errs = append(*errs, fmt.Sprintf("field %q exceeds max string length %d", fieldPath, limits.MaxStringLen))
			}
		case []interface{}:
			if len(v) > limits.MaxArraySize {
				*errs = append(*errs, fmt.Sprintf("field %q exceeds max array size %d", fieldPath, limits.MaxArraySize))
			}
			for _, item := range v {
				if nested, ok := item.(map[string]interface{}); ok {
					validateContent(nested, limits, fieldPath, errs)
				}
			}
		case map[string]interface{}:
			validateContent(v, limits, fieldPath, errs)
		}
	}
}
