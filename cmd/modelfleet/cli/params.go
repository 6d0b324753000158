// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/modelfleet/lib/controlclient"
)

// FlagBinder is implemented by types that bind their own flags. When a
// struct field's type implements FlagBinder, [BindFlags] calls AddFlags
// instead of reflecting struct tags.
type FlagBinder interface {
	AddFlags(flagSet *pflag.FlagSet)
}

// FlagsFromParams creates a [pflag.FlagSet] with flags bound to the
// tagged fields of params, a pointer to a struct. Panics on invalid
// input: a bad params struct is a programming error.
func FlagsFromParams(name string, params any) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	if err := BindFlags(params, flagSet); err != nil {
		panic(fmt.Sprintf("cli.FlagsFromParams(%q): %v", name, err))
	}
	return flagSet
}

// BindFlags registers pflag entries for each tagged field in params.
// params must be a pointer to a struct.
//
// # Struct tags
//
//   - flag:"name" or flag:"name,n" sets the long name and optional
//     one-letter shorthand. Fields without a flag tag are skipped.
//   - desc:"help text" is the flag's help line.
//   - default:"value" is parsed according to the field's type. Omitted
//     means the zero value.
//
// # Supported field types
//
// string, bool, int, int64, float64, [time.Duration], []string,
// [OptionalBool], [OptionalDuration], and any other [pflag.Value].
//
// Struct fields implementing [FlagBinder] bind themselves; other
// embedded structs are bound recursively.
func BindFlags(params any, flagSet *pflag.FlagSet) error {
	value := reflect.ValueOf(params)
	if value.Kind() != reflect.Ptr || value.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("params must be a pointer to a struct, got %T", params)
	}
	return bindStructFields(value.Elem(), flagSet)
}

func bindStructFields(structValue reflect.Value, flagSet *pflag.FlagSet) error {
	structType := structValue.Type()

	for i := range structType.NumField() {
		field := structType.Field(i)
		fieldValue := structValue.Field(i)

		if field.Type.Kind() == reflect.Struct && field.IsExported() && fieldValue.CanAddr() {
			if binder, ok := fieldValue.Addr().Interface().(FlagBinder); ok {
				binder.AddFlags(flagSet)
				continue
			}
		}

		flagTag := field.Tag.Get("flag")
		if field.Anonymous && field.Type.Kind() == reflect.Struct && flagTag == "" {
			if err := bindStructFields(fieldValue, flagSet); err != nil {
				return fmt.Errorf("embedded %s: %w", field.Name, err)
			}
			continue
		}
		if flagTag == "" {
			continue
		}
		if !fieldValue.CanAddr() {
			return fmt.Errorf("field %s: not addressable", field.Name)
		}

		name, shorthand, _ := strings.Cut(flagTag, ",")
		if err := bindField(fieldValue, flagSet, name, shorthand, field.Tag.Get("desc"), field.Tag.Get("default")); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

func bindField(fieldValue reflect.Value, flagSet *pflag.FlagSet, name, shorthand, description, defaultString string) error {
	pointer := fieldValue.Addr().Interface()

	switch target := pointer.(type) {
	case *string:
		flagSet.StringVarP(target, name, shorthand, defaultString, description)

	case *bool:
		defaultValue, err := parseDefault(defaultString, strconv.ParseBool)
		if err != nil {
			return fmt.Errorf("default for --%s: %w", name, err)
		}
		flagSet.BoolVarP(target, name, shorthand, defaultValue, description)

	case *int:
		defaultValue, err := parseDefault(defaultString, strconv.Atoi)
		if err != nil {
			return fmt.Errorf("default for --%s: %w", name, err)
		}
		flagSet.IntVarP(target, name, shorthand, defaultValue, description)

	case *int64:
		defaultValue, err := parseDefault(defaultString, func(s string) (int64, error) {
			return strconv.ParseInt(s, 10, 64)
		})
		if err != nil {
			return fmt.Errorf("default for --%s: %w", name, err)
		}
		flagSet.Int64VarP(target, name, shorthand, defaultValue, description)

	case *float64:
		defaultValue, err := parseDefault(defaultString, func(s string) (float64, error) {
			return strconv.ParseFloat(s, 64)
		})
		if err != nil {
			return fmt.Errorf("default for --%s: %w", name, err)
		}
		flagSet.Float64VarP(target, name, shorthand, defaultValue, description)

	case *time.Duration:
		defaultValue, err := parseDefault(defaultString, time.ParseDuration)
		if err != nil {
			return fmt.Errorf("default for --%s: %w", name, err)
		}
		flagSet.DurationVarP(target, name, shorthand, defaultValue, description)

	case *[]string:
		var defaultValue []string
		if defaultString != "" {
			defaultValue = strings.Split(defaultString, ",")
		}
		flagSet.StringSliceVarP(target, name, shorthand, defaultValue, description)

	case pflag.Value:
		if defaultString != "" {
			if err := target.Set(defaultString); err != nil {
				return fmt.Errorf("default for --%s: %w", name, err)
			}
		}
		flag := flagSet.VarPF(target, name, shorthand, description)
		if target.Type() == "bool" {
			flag.NoOptDefVal = "true"
		}

	default:
		return fmt.Errorf("unsupported type %s for flag --%s", fieldValue.Type(), name)
	}
	return nil
}

func parseDefault[T any](s string, parse func(string) (T, error)) (T, error) {
	var zero T
	if s == "" {
		return zero, nil
	}
	return parse(s)
}

// OptionalBool is a bool flag that records whether it was given, for
// commands that send only the settings the operator changed.
type OptionalBool struct {
	Value bool
	IsSet bool
}

func (o *OptionalBool) Set(text string) error {
	value, err := strconv.ParseBool(text)
	if err != nil {
		return err
	}
	o.Value, o.IsSet = value, true
	return nil
}

func (o *OptionalBool) String() string { return strconv.FormatBool(o.Value) }
func (o *OptionalBool) Type() string   { return "bool" }

// Ptr returns the value when set, else nil.
func (o *OptionalBool) Ptr() *bool {
	if !o.IsSet {
		return nil
	}
	value := o.Value
	return &value
}

// OptionalDuration is a duration flag that records whether it was
// given. Accepts Go durations ("90s") or plain seconds ("90").
type OptionalDuration struct {
	Value time.Duration
	IsSet bool
}

func (o *OptionalDuration) Set(text string) error {
	value, err := controlclient.ParseDuration(text)
	if err != nil {
		return err
	}
	if value <= 0 {
		return fmt.Errorf("duration must be positive, got %s", value)
	}
	o.Value, o.IsSet = value, true
	return nil
}

func (o *OptionalDuration) String() string {
	if !o.IsSet {
		return ""
	}
	return o.Value.String()
}

func (o *OptionalDuration) Type() string { return "duration" }

// Ptr returns the value as a wire duration when set, else nil.
func (o *OptionalDuration) Ptr() *controlclient.Duration {
	if !o.IsSet {
		return nil
	}
	value := controlclient.Duration(o.Value)
	return &value
}
