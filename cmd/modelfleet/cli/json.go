// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"io"
	"os"
	"reflect"
)

// JSONOutput is an embeddable struct that adds --json output support to
// a command's parameter struct. Embedding it provides the --json flag
// (via struct tag processing in [BindFlags]) and the [EmitJSON] method.
//
//	type statusParams struct {
//	    cli.JSONOutput
//	    ControllerConnection
//	}
//
//	// In Run:
//	if done, err := params.EmitJSON(status); done {
//	    return err
//	}
//	// ... text formatting ...
type JSONOutput struct {
	OutputJSON bool `json:"-" flag:"json" desc:"output as JSON"`

	// Out overrides stdout, mainly for tests.
	Out io.Writer `json:"-"`
}

// EmitJSON writes result as indented JSON if --json is set. Returns
// (true, nil) on success, (true, err) on write failure, or (false, nil)
// when the caller should proceed with text formatting.
//
// Nil slices are normalized to empty slices, so the output is never
// null where a list is expected.
func (j *JSONOutput) EmitJSON(result any) (bool, error) {
	if !j.OutputJSON {
		return false, nil
	}
	return true, WriteJSON(j.Stdout(), normalizeNilSlice(result))
}

// SetJSONOutput enables or disables JSON output mode.
func (j *JSONOutput) SetJSONOutput(enabled bool) {
	j.OutputJSON = enabled
}

// Stdout is where the command writes its primary output.
func (j *JSONOutput) Stdout() io.Writer {
	if j.Out != nil {
		return j.Out
	}
	return os.Stdout
}

// WriteJSON marshals value as indented JSON to w.
func WriteJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// normalizeNilSlice returns an empty slice of the same type if value
// is a nil slice. Returns value unchanged for all other types.
func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}
