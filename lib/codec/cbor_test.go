// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type journalRow struct {
	ModelID string  `json:"modelId"`
	Version string  `json:"version"`
	Score   float64 `json:"score"`
}

func TestMarshalDeterministic(t *testing.T) {
	row := map[string]any{"zeta": 1, "alpha": "a", "mid": []any{1, 2}}
	first, err := Marshal(row)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(row)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("Marshal produced different bytes for the same map")
		}
	}
}

func TestUnmarshalUsesJSONTags(t *testing.T) {
	data, err := Marshal(map[string]any{"modelId": "resnet", "version": "v2", "score": 62.0})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var row journalRow
	if err := Unmarshal(data, &row); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if row.ModelID != "resnet" || row.Version != "v2" || row.Score != 62 {
		t.Errorf("decoded %+v", row)
	}
}

func TestUnmarshalAnyMapsAreStringKeyed(t *testing.T) {
	data, err := Marshal(map[string]any{"cpu": map[string]any{"percent": 12.5}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded["cpu"].(map[string]any); !ok {
		t.Errorf("nested map decoded as %T, want map[string]any", decoded["cpu"])
	}
}
