package address

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
)

const (
	// JackPrefixLen is the number of leading fields that identify a transport/jack
	JackPrefixLen = 2
	// ClientPrefixLen is the number of leading fields that identify a client on a transport
	ClientPrefixLen = 3
)

var (
	// ErrInvalidAddress is returned when a value cannot be interpreted as an Address
	ErrInvalidAddress = errors.New("invalid address")
)

// Address is an ordered sequence of fields. Each field is a string, a float64,
// a bool, nil, or a nested Address. Values built with New or Parse are always
// normalized to those types.
type Address []any

// New builds a normalized Address from the given fields.
// Nested slices become nested Addresses and numeric kinds become float64.
func New(fields ...any) (Address, error) {
	addr := make(Address, 0, len(fields))
	for i, f := range fields {
		v, err := normalize(f)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		addr = append(addr, v)
	}
	return addr, nil
}

// MustNew is like New but panics on error. Intended for literals and tests.
func MustNew(fields ...any) Address {
	addr, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return addr
}

// Parse decodes a JSON array into an Address.
func Parse(raw []byte) (Address, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidAddress)
	}
	res := gjson.ParseBytes(raw)
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: expected JSON array, got %s", ErrInvalidAddress, res.Type)
	}
	return fromResult(res)
}

func fromResult(res gjson.Result) (Address, error) {
	items := res.Array()
	addr := make(Address, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case gjson.String:
			addr = append(addr, item.Str)
		case gjson.Number:
			addr = append(addr, item.Num)
		case gjson.True:
			addr = append(addr, true)
		case gjson.False:
			addr = append(addr, false)
		case gjson.Null:
			addr = append(addr, nil)
		case gjson.JSON:
			if !item.IsArray() {
				return nil, fmt.Errorf("%w: objects are not allowed in addresses", ErrInvalidAddress)
			}
			nested, err := fromResult(item)
			if err != nil {
				return nil, err
			}
			addr = append(addr, nested)
		}
	}
	return addr, nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool:
		return t, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: non-finite number", ErrInvalidAddress)
		}
		return t, nil
	case float32:
		return normalize(float64(t))
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case Address:
		return New(t...)
	case []any:
		return New(t...)
	case []string:
		fields := make([]any, len(t))
		for i, s := range t {
			fields[i] = s
		}
		return New(fields...)
	default:
		return nil, fmt.Errorf("%w: unsupported field type %T", ErrInvalidAddress, v)
	}
}

// Validate checks the shape required for routing: at least a transport kind
// and a transport location, with the kind being a string.
func (a Address) Validate() error {
	if len(a) < JackPrefixLen {
		return fmt.Errorf("%w: need at least %d fields, got %d", ErrInvalidAddress, JackPrefixLen, len(a))
	}
	if _, ok := a[0].(string); !ok {
		return fmt.Errorf("%w: transport kind must be a string", ErrInvalidAddress)
	}
	return nil
}

// Len returns the number of top-level fields
func (a Address) Len() int {
	return len(a)
}

// Transport returns the transport kind, or "" if the first field is not a string
func (a Address) Transport() string {
	if len(a) == 0 {
		return ""
	}
	s, _ := a[0].(string)
	return s
}

// Prefix returns the first n fields. Shorter addresses are returned whole.
func (a Address) Prefix(n int) Address {
	if n >= len(a) {
		return a
	}
	if n < 0 {
		n = 0
	}
	return a[:n]
}

// Key returns the canonical JSON form of the address. Two addresses are
// structurally equal exactly when their keys are equal.
func (a Address) Key() string {
	b, err := a.encode()
	if err != nil {
		return fmt.Sprint([]any(a))
	}
	return string(b)
}

// Equal reports structural equality
func (a Address) Equal(b Address) bool {
	return a.Key() == b.Key()
}

// String returns the canonical JSON form
func (a Address) String() string {
	return a.Key()
}

// MarshalJSON encodes the address as a JSON array
func (a Address) MarshalJSON() ([]byte, error) {
	return a.encode()
}

// UnmarshalJSON decodes a JSON array into the address
func (a *Address) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Address) encode() ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any(a)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
