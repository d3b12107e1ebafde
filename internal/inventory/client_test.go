package inventory

import (
	"encoding/json"
	"testing"
)

func TestCollectCodesFlattensBothBarcodeShapes(t *testing.T) {
	product := &rawProduct{
		Article: "ART-1",
		Code:    "C-1",
		Barcodes: []json.RawMessage{
			json.RawMessage(`"4600000000017"`),
			json.RawMessage(`{"ean13":"4600000000024","code128":"XYZ"}`),
		},
		Attributes: []struct {
			Value any `json:"value"`
		}{
			{Value: "aux-code"},
			{Value: float64(987654)},
			{Value: nil},
		},
	}

	codes := collectCodes(product)

	want := map[string]bool{
		"4600000000017": true,
		"4600000000024": true,
		"XYZ":           true,
		"aux-code":      true,
		"987654":        true,
		"ART-1":         true,
		"C-1":           true,
	}
	if len(codes) != len(want) {
		t.Fatalf("expected %d codes, got %d: %v", len(want), len(codes), codes)
	}
	for _, code := range codes {
		if !want[code] {
			t.Fatalf("unexpected code %q in %v", code, codes)
		}
	}
}

func TestCollectCodesDeduplicates(t *testing.T) {
	product := &rawProduct{
		Article: "SAME",
		Code:    "SAME",
		Barcodes: []json.RawMessage{
			json.RawMessage(`"SAME"`),
		},
	}

	codes := collectCodes(product)
	if len(codes) != 1 || codes[0] != "SAME" {
		t.Fatalf("expected single deduplicated code, got %v", codes)
	}
}

func TestStringifyIntegralFloats(t *testing.T) {
	if got := stringify(float64(4600000000017)); got != "4600000000017" {
		t.Fatalf("expected integral formatting, got %q", got)
	}
	if got := stringify("plain"); got != "plain" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	if got := stringify(nil); got != "" {
		t.Fatalf("expected empty for nil, got %q", got)
	}
}
