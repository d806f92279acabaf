package rspc

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-json-experiment/json/jsontext"
)

var (
	timeType      = reflect.TypeFor[time.Time]()
	jsonValueType = reflect.TypeFor[jsontext.Value]()
)

// Description is the static shape of a router, for tools that generate
// client bindings.
type Description struct {
	Procedures []ProcedureDescription     `json:"procedures"`
	Types      map[string]TypeDescription `json:"types"`
}

// ProcedureDescription describes one procedure.
type ProcedureDescription struct {
	Name       string           `json:"name"`
	Kind       ProcedureKind    `json:"kind"`
	Input      *TypeDescription `json:"input"`
	Output     *TypeDescription `json:"output"`
	Middleware []string         `json:"middleware,omitempty"`
}

// TypeDescription describes a Go type as it appears on the wire. Named
// struct types are described once in Description.Types and referenced by
// name elsewhere.
type TypeDescription struct {
	Kind     string             `json:"kind"`
	Name     string             `json:"name,omitempty"`
	Nullable bool               `json:"nullable,omitzero"`
	Key      *TypeDescription   `json:"key,omitempty"`
	Elem     *TypeDescription   `json:"elem,omitempty"`
	Fields   []FieldDescription `json:"fields,omitempty"`
}

// FieldDescription describes one struct field.
type FieldDescription struct {
	Name     string           `json:"name"`
	Optional bool             `json:"optional,omitzero"`
	Type     *TypeDescription `json:"type"`
}

// Describe returns the static description of every procedure.
func (r *Router) Describe() Description {
	d := &describer{types: make(map[string]TypeDescription)}
	desc := Description{Types: d.types}
	for _, name := range r.Names() {
		p := r.procs[name]
		desc.Procedures = append(desc.Procedures, ProcedureDescription{
			Name:       name,
			Kind:       p.Kind(),
			Input:      d.describe(p.input),
			Output:     d.describe(p.output),
			Middleware: p.Middleware(),
		})
	}
	return desc
}

type describer struct {
	types map[string]TypeDescription
}

func (d *describer) describe(t reflect.Type) *TypeDescription {
	if t == nil {
		return &TypeDescription{Kind: "null"}
	}
	switch t {
	case timeType:
		return &TypeDescription{Kind: "string", Name: "time.Time"}
	case jsonValueType:
		return &TypeDescription{Kind: "any"}
	}

	switch t.Kind() {
	case reflect.String:
		return &TypeDescription{Kind: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return &TypeDescription{Kind: "number"}
	case reflect.Bool:
		return &TypeDescription{Kind: "boolean"}
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return &TypeDescription{Kind: "string", Name: "bytes"}
		}
		return &TypeDescription{Kind: "array", Elem: d.describe(t.Elem())}
	case reflect.Map:
		return &TypeDescription{Kind: "record", Key: d.describe(t.Key()), Elem: d.describe(t.Elem())}
	case reflect.Ptr:
		inner := *d.describe(t.Elem())
		inner.Nullable = true
		return &inner
	case reflect.Struct:
		if t.Name() == "" || t.PkgPath() == "" {
			return &TypeDescription{Kind: "object", Fields: d.fields(t)}
		}
		name := t.String()
		if _, ok := d.types[name]; !ok {
			// Placeholder first so recursive types terminate.
			d.types[name] = TypeDescription{Kind: "object", Name: name}
			d.types[name] = TypeDescription{Kind: "object", Name: name, Fields: d.fields(t)}
		}
		return &TypeDescription{Kind: "ref", Name: name}
	default:
		return &TypeDescription{Kind: "any"}
	}
}

func (d *describer) fields(t reflect.Type) []FieldDescription {
	return d.collect(t, map[reflect.Type]bool{})
}

// collect flattens embedded structs into t's fields. seen holds the structs
// on the current embedding path, so a struct embedding itself stops there.
func (d *describer) collect(t reflect.Type, seen map[reflect.Type]bool) []FieldDescription {
	if seen[t] {
		return nil
	}
	seen[t] = true
	defer delete(seen, t)
	var fields []FieldDescription
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, opts, skip := jsonName(f)
		if skip {
			continue
		}
		ft := f.Type
		if f.Anonymous && (opts.inline || !opts.named) {
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				fields = append(fields, d.collect(ft, seen)...)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		fields = append(fields, FieldDescription{
			Name:     name,
			Optional: opts.omit || ft.Kind() == reflect.Ptr,
			Type:     d.describe(ft),
		})
	}
	return fields
}

type tagOptions struct {
	named  bool
	omit   bool
	inline bool
}

func jsonName(f reflect.StructField) (string, tagOptions, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", tagOptions{}, true
	}
	parts := strings.Split(tag, ",")
	var opts tagOptions
	name := f.Name
	if parts[0] != "" {
		name = parts[0]
		opts.named = true
	}
	for _, opt := range parts[1:] {
		switch opt {
		case "omitempty", "omitzero":
			opts.omit = true
		case "inline":
			opts.inline = true
		}
	}
	return name, opts, false
}
