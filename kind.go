package rspc

import (
	"fmt"
	"strconv"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// ProcedureKind is the kind of a procedure.
type ProcedureKind int

const (
	// KindQuery is a single-value read.
	KindQuery ProcedureKind = iota
	// KindMutation is a single-value write.
	KindMutation
	// KindSubscription is a long-lived feed of zero or more values.
	KindSubscription
)

func (k ProcedureKind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindMutation:
		return "mutation"
	case KindSubscription:
		return "subscription"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Single reports whether procedures of this kind yield exactly one item.
func (k ProcedureKind) Single() bool {
	return k == KindQuery || k == KindMutation
}

func (k ProcedureKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

type requestIDKind uint8

const (
	requestIDNull requestIDKind = iota
	requestIDNumber
	requestIDString
)

// RequestID correlates the start and stop messages of a subscription.
// It is one of null, a uint32 number or a string. The zero value is null.
// RequestID is comparable and can be used as a map key.
type RequestID struct {
	kind requestIDKind
	num  uint32
	str  string
}

// NullRequestID returns the null request id.
func NullRequestID() RequestID {
	return RequestID{}
}

// NumberRequestID returns a numeric request id.
func NumberRequestID(n uint32) RequestID {
	return RequestID{kind: requestIDNumber, num: n}
}

// StringRequestID returns a string request id.
func StringRequestID(s string) RequestID {
	return RequestID{kind: requestIDString, str: s}
}

// IsNull reports whether the id is null.
func (id RequestID) IsNull() bool { return id.kind == requestIDNull }

// Number returns the numeric value and whether the id is a number.
func (id RequestID) Number() (uint32, bool) { return id.num, id.kind == requestIDNumber }

// Str returns the string value and whether the id is a string.
func (id RequestID) Str() (string, bool) { return id.str, id.kind == requestIDString }

func (id RequestID) String() string {
	switch id.kind {
	case requestIDNumber:
		return strconv.FormatUint(uint64(id.num), 10)
	case requestIDString:
		return strconv.Quote(id.str)
	default:
		return "null"
	}
}

func (id RequestID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case requestIDNumber:
		return json.Marshal(id.num)
	case requestIDString:
		return json.Marshal(id.str)
	default:
		return []byte("null"), nil
	}
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	switch jsontext.Value(data).Kind() {
	case 'n':
		*id = NullRequestID()
	case '0':
		var n uint32
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("request id: %w", err)
		}
		*id = NumberRequestID(n)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("request id: %w", err)
		}
		*id = StringRequestID(s)
	default:
		return fmt.Errorf("request id: must be null, a number or a string, got %s", data)
	}
	return nil
}
