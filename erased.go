package rspc

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// ValueKind tags the representation held by an Input or Output.
type ValueKind int

const (
	// NativeValue is a concrete Go value handed over in-process.
	NativeValue ValueKind = iota
	// DecoderValue is a payload that has not been decoded yet.
	DecoderValue
	// SerializableValue is an output that can only be serialized.
	SerializableValue
)

func (k ValueKind) String() string {
	switch k {
	case NativeValue:
		return "native value"
	case DecoderValue:
		return "decoder"
	case SerializableValue:
		return "serializable"
	default:
		return "unknown"
	}
}

// Decoder is a one-shot decodable payload.
type Decoder interface {
	Decode(v any) error
}

type jsonDecoder struct {
	raw jsontext.Value
}

// JSONDecoder returns a Decoder over a raw JSON payload.
func JSONDecoder(raw jsontext.Value) Decoder {
	return &jsonDecoder{raw: raw}
}

func (d *jsonDecoder) Decode(v any) error {
	if len(d.raw) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(d.raw, v)
}

// Input carries a procedure argument whose concrete type is only known to the
// caller and the resolver. It is consumed at most once.
type Input struct {
	kind     ValueKind
	value    any
	decoder  Decoder
	consumed bool
}

// InputFromValue wraps a native value.
func InputFromValue(v any) *Input {
	return &Input{kind: NativeValue, value: v}
}

// InputFromDecoder wraps a decodable payload.
func InputFromDecoder(d Decoder) *Input {
	return &Input{kind: DecoderValue, decoder: d}
}

// Kind returns the representation tag.
func (in *Input) Kind() ValueKind { return in.kind }

// Consumed reports whether the value was already taken out.
func (in *Input) Consumed() bool { return in.consumed }

func (in *Input) take() {
	if in.consumed {
		panic(ErrInputConsumed)
	}
	in.consumed = true
}

// InputAs moves the native value out of in. It fails with CodeTypeMismatch when
// the value is not a T and with CodeWrongInputKind when in holds a decoder.
// A type mismatch leaves the slot intact. Taking an already emptied slot panics.
func InputAs[T any](in *Input) (T, error) {
	var zero T
	if in.kind != NativeValue {
		return zero, ErrWrongInputKind(NativeValue, in.kind)
	}
	if in.consumed {
		panic(ErrInputConsumed)
	}
	v, ok := in.value.(T)
	if !ok && !(in.value == nil && nillable(reflect.TypeFor[T]())) {
		return zero, ErrTypeMismatch(reflect.TypeFor[T](), reflect.TypeOf(in.value))
	}
	in.take()
	in.value = nil
	return v, nil
}

// DecodeInput decodes the payload of a decoder-tagged input into a T.
func DecodeInput[T any](in *Input) (T, error) {
	var v T
	if in.kind != DecoderValue {
		return v, ErrWrongInputKind(DecoderValue, in.kind)
	}
	in.take()
	d := in.decoder
	in.decoder = nil
	if err := d.Decode(&v); err != nil {
		return v, ErrDeserialize(err)
	}
	return v, nil
}

// ExtractInput takes a T out of in whatever its representation. A nil input
// yields the zero value.
func ExtractInput[T any](in *Input) (T, error) {
	if in == nil {
		var zero T
		return zero, nil
	}
	if in.kind == DecoderValue {
		return DecodeInput[T](in)
	}
	return InputAs[T](in)
}

// Serializable is an output that knows how to write itself as JSON.
type Serializable interface {
	Serialize(enc *jsontext.Encoder) error
}

type rawJSON jsontext.Value

func (r rawJSON) Serialize(enc *jsontext.Encoder) error {
	return enc.WriteValue(jsontext.Value(r))
}

// RawJSON returns a Serializable that writes raw unchanged.
func RawJSON(raw jsontext.Value) Serializable {
	return rawJSON(raw)
}

// Output carries a procedure result to the transport adapter. It is consumed
// at most once.
type Output struct {
	kind         ValueKind
	value        any
	serializable Serializable
	consumed     bool
}

// OutputFromValue wraps a native value.
func OutputFromValue(v any) *Output {
	return &Output{kind: NativeValue, value: v}
}

// OutputSerializable wraps a value that is only serialized.
func OutputSerializable(s Serializable) *Output {
	return &Output{kind: SerializableValue, serializable: s}
}

// Kind returns the representation tag.
func (out *Output) Kind() ValueKind { return out.kind }

// Consumed reports whether the value was already taken out.
func (out *Output) Consumed() bool { return out.consumed }

func (out *Output) take() {
	if out.consumed {
		panic(ErrOutputConsumed)
	}
	out.consumed = true
}

// OutputAs moves the native value out of out.
func OutputAs[T any](out *Output) (T, error) {
	var zero T
	if out.kind != NativeValue {
		return zero, ErrWrongInputKind(NativeValue, out.kind)
	}
	if out.consumed {
		panic(ErrOutputConsumed)
	}
	v, ok := out.value.(T)
	if !ok && !(out.value == nil && nillable(reflect.TypeFor[T]())) {
		return zero, ErrTypeMismatch(reflect.TypeFor[T](), reflect.TypeOf(out.value))
	}
	out.take()
	out.value = nil
	return v, nil
}

// Encode serializes the output as JSON.
func (out *Output) Encode() (jsontext.Value, error) {
	out.take()
	var buf bytes.Buffer
	enc := jsontext.NewEncoder(&buf)
	var err error
	switch out.kind {
	case NativeValue:
		err = json.MarshalEncode(enc, out.value)
		out.value = nil
	case SerializableValue:
		err = out.serializable.Serialize(enc)
		out.serializable = nil
	default:
		err = fmt.Errorf("unexpected output kind %s", out.kind)
	}
	if err != nil {
		return nil, ErrSerialize(err)
	}
	return jsontext.Value(bytes.TrimSpace(buf.Bytes())), nil
}

// nillable reports whether a bare nil stands for the zero value of t.
func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
