package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// envBinding is one leaf field and the variable that overrides it.
type envBinding struct {
	key   string
	field reflect.Value
}

// envBindings flattens the env-tagged fields of v. Keys nest as
// PREFIX_SECTION_FIELD; fields without an env tag are skipped.
func envBindings(v reflect.Value, prefix string) []envBinding {
	var out []envBinding
	t := v.Type()
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			out = append(out, envBindings(field, key)...)
			continue
		}
		out = append(out, envBinding{key: key, field: field})
	}
	return out
}

// overlayEnv writes every non-empty variable found by lookup onto cfg.
func overlayEnv(cfg *Config, prefix string, lookup func(string) (string, bool)) error {
	for _, b := range envBindings(reflect.ValueOf(cfg).Elem(), prefix) {
		raw, ok := lookup(b.key)
		if !ok || raw == "" {
			continue
		}
		if err := decodeInto(b.field, raw); err != nil {
			return fmt.Errorf("%s=%q: %w", b.key, raw, err)
		}
	}
	return nil
}

// decodeInto parses raw according to the field's type. Durations use
// time.ParseDuration and string slices split on commas.
func decodeInto(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element %s", field.Type().Elem())
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
