package reconcile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// volatileFields never take part in content comparison
var volatileFields = []string{"updated_at"}

var timeType = reflect.TypeOf(time.Time{})

// Checksum computes a content hash of a record's snapshot representation.
// Volatile fields are dropped and time.Time fields are normalized to UTC at microsecond
// precision so a database round trip does not change the hash. Text fields are hashed
// exactly as they are, even when they look like timestamps.
func Checksum(record any) (string, error) {
	raw, err := json.Marshal(normalizeTimes(record))
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return "", fmt.Errorf("record does not encode as an object: %w", err)
	}
	for _, f := range volatileFields {
		delete(fields, f)
	}

	// map keys are emitted in sorted order, which makes the encoding canonical
	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode canonical record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeTimes returns a copy of a struct record with every time field normalized.
// Anything that is not a struct or a pointer to one is returned unchanged.
func normalizeTimes(record any) any {
	v := reflect.ValueOf(record)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return record
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return record
	}
	c := reflect.New(v.Type())
	c.Elem().Set(v)
	normalizeStruct(c.Elem())
	return c.Interface()
}

func normalizeStruct(v reflect.Value) {
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !f.CanSet() {
			continue
		}
		switch {
		case f.Type() == timeType:
			f.Set(reflect.ValueOf(normalizeTime(f.Interface().(time.Time))))
		case f.Type() == reflect.PointerTo(timeType):
			if !f.IsNil() {
				ts := normalizeTime(*f.Interface().(*time.Time))
				f.Set(reflect.ValueOf(&ts))
			}
		case f.Kind() == reflect.Struct:
			normalizeStruct(f)
		}
	}
}

func normalizeTime(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Microsecond)
}
