// Package config loads settings from the environment through `env` struct
// tags.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrMissingRequired is returned when a field tagged required:"true" has no
// value in the environment.
var ErrMissingRequired = errors.New("required environment variable not set")

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// LoadFromEnv fills the fields of the struct cfg points to from the variables
// named by their `env` tags, descending into nested structs. Unset or empty
// variables leave the field alone unless it is tagged required:"true"; every
// missing required variable is reported in one ErrMissingRequired error.
// A field tagged allowEmpty:"true" takes a set but empty variable as its
// value.
func LoadFromEnv(cfg interface{}) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: want a non-nil pointer to a struct, got %T", cfg)
	}

	var missing []string
	if err := walkEnv(v.Elem(), &missing); err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}
	return nil
}

func walkEnv(v reflect.Value, missing *[]string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field, sf := v.Field(i), t.Field(i)
		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && field.Type() != timeType {
			if err := walkEnv(field, missing); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := os.LookupEnv(name)
		if ok && raw == "" && sf.Tag.Get("allowEmpty") == "true" {
			field.SetZero()
			continue
		}
		if !ok || raw == "" {
			if sf.Tag.Get("required") == "true" {
				*missing = append(*missing, name)
			}
			continue
		}

		if err := assign(field, raw); err != nil {
			return fmt.Errorf("%s (%s): %w", name, sf.Name, err)
		}
	}
	return nil
}

// assign parses raw into field. Integers accept any strconv base prefix, so
// addresses can be written in hex.
func assign(field reflect.Value, raw string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(raw)
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case field.CanInt():
		n, err := strconv.ParseInt(raw, 0, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case field.CanUint():
		n, err := strconv.ParseUint(raw, 0, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
