// Package datamodel holds the typed key-value records that decoders build
// and sinks consume. A record keeps its fields in insertion order; sinks can
// traverse the fields and render them, and MarshalJSON renders a record as a
// JSON object in that same order.
package datamodel

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Field is one entry of a record. Label and Format are optional presentation
// hints; a field with suppress set is skipped by Fields and by marshalling.
type Field struct {
	Key    string
	Label  string
	Format string
	Value  any

	suppress bool
}

// Record is an ordered collection of fields. Values are one of: int, float64,
// string, []byte, *Record, or a homogeneous []any of those.
type Record struct {
	fields []Field
}

// New returns an empty record.
func New() *Record {
	return &Record{}
}

// Str appends a string field.
func (r *Record) Str(key, value string) *Record {
	r.fields = append(r.fields, Field{Key: key, Value: value})
	return r
}

// Int appends an integer field.
func (r *Record) Int(key string, value int) *Record {
	r.fields = append(r.fields, Field{Key: key, Value: value})
	return r
}

// Float appends a float field with a format hint, e.g. "%.1f C".
func (r *Record) Float(key, format string, value float64) *Record {
	r.fields = append(r.fields, Field{Key: key, Format: format, Value: value})
	return r
}

// Bytes appends a byte-array field.
func (r *Record) Bytes(key string, value []byte) *Record {
	r.fields = append(r.fields, Field{Key: key, Value: value})
	return r
}

// Sub appends a nested record field.
func (r *Record) Sub(key string, value *Record) *Record {
	r.fields = append(r.fields, Field{Key: key, Value: value})
	return r
}

// Array appends a homogeneous array field.
func (r *Record) Array(key string, value []any) *Record {
	r.fields = append(r.fields, Field{Key: key, Value: value})
	return r
}

// Label sets the human-readable label of the last appended field.
func (r *Record) Label(label string) *Record {
	if n := len(r.fields); n > 0 {
		r.fields[n-1].Label = label
	}
	return r
}

// Format sets the format hint of the last appended field.
func (r *Record) Format(format string) *Record {
	if n := len(r.fields); n > 0 {
		r.fields[n-1].Format = format
	}
	return r
}

// Cond gates the last appended field: when ok is false the field is
// suppressed from iteration and output.
func (r *Record) Cond(ok bool) *Record {
	if n := len(r.fields); n > 0 {
		r.fields[n-1].suppress = !ok
	}
	return r
}

// Prepend inserts a string field before all existing fields. The pipeline
// uses it for metadata such as the event time.
func (r *Record) Prepend(key, value string) *Record {
	r.fields = append([]Field{{Key: key, Value: value}}, r.fields...)
	return r
}

// Fields returns the live fields in insertion order.
func (r *Record) Fields() []Field {
	out := make([]Field, 0, len(r.fields))
	for _, f := range r.fields {
		if !f.suppress {
			out = append(out, f)
		}
	}
	return out
}

// Get returns the value of the first live field with the given key.
func (r *Record) Get(key string) (any, bool) {
	for _, f := range r.fields {
		if !f.suppress && f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Formatted renders the field value using its format hint when one is set.
// Byte arrays render as hex.
func (f Field) Formatted() string {
	switch v := f.Value.(type) {
	case []byte:
		return hex.EncodeToString(v)
	case *Record:
		b, _ := v.MarshalJSON()
		return string(b)
	}
	if f.Format != "" {
		return fmt.Sprintf(f.Format, f.Value)
	}
	return fmt.Sprintf("%v", f.Value)
}

// MarshalJSON renders the record as an object with keys in insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, f := range r.fields {
		if f.suppress {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		var v []byte
		switch val := f.Value.(type) {
		case []byte:
			v, err = json.Marshal(hex.EncodeToString(val))
		default:
			v, err = json.Marshal(val)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
