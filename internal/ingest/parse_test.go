package ingest

import (
	"errors"
	"testing"
)

const validPayload = `{
	"vendor_name": "Esselunga",
	"date": "2026-08-29",
	"total_amount": 13.00,
	"tax_amount": 0,
	"tip_amount": 0,
	"items": [
		{"name": "Milk", "quantity": 2, "unit_price": 1.50, "total_price": 3.00, "category": "Groceries", "subcategory": "Dairy"},
		{"name": "Bread", "quantity": 1, "unit_price": 10.00, "total_price": 10.00, "category": "Groceries", "subcategory": ""}
	]
}`

func TestDecodeExtractionStrict(t *testing.T) {
	rec, err := DecodeExtraction(validPayload)
	if err != nil {
		t.Fatalf("DecodeExtraction: %v", err)
	}
	if rec.VendorName != "Esselunga" || len(rec.Items) != 2 {
		t.Fatalf("decoded = %+v", rec)
	}
	if rec.Items[0].Quantity != 2 || rec.Items[0].UnitPrice != 1.50 {
		t.Fatalf("item = %+v", rec.Items[0])
	}
}

func TestDecodeExtractionFenced(t *testing.T) {
	for _, raw := range []string{
		"```json\n" + validPayload + "\n```",
		"```\n" + validPayload + "\n```",
	} {
		rec, err := DecodeExtraction(raw)
		if err != nil {
			t.Fatalf("fenced decode: %v", err)
		}
		if rec.VendorName != "Esselunga" {
			t.Fatalf("decoded vendor = %q", rec.VendorName)
		}
	}
}

func TestDecodeExtractionBraceScan(t *testing.T) {
	raw := "Here is the extracted receipt:\n" + validPayload + "\nLet me know if you need anything else."
	rec, err := DecodeExtraction(raw)
	if err != nil {
		t.Fatalf("brace scan decode: %v", err)
	}
	if rec.VendorName != "Esselunga" {
		t.Fatalf("decoded vendor = %q", rec.VendorName)
	}
}

func TestDecodeExtractionBraceScanSkipsStringBraces(t *testing.T) {
	raw := `noise {"vendor_name": "Braces {inside} a string", "items": []} noise`
	rec, err := DecodeExtraction(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.VendorName != "Braces {inside} a string" {
		t.Fatalf("vendor = %q", rec.VendorName)
	}
}

func TestDecodeExtractionParseError(t *testing.T) {
	for _, raw := range []string{
		"",
		"I could not read the receipt.",
		"{\"vendor_name\": ", // unbalanced
	} {
		if _, err := DecodeExtraction(raw); !errors.Is(err, ErrExtractionParse) {
			t.Fatalf("%q expected ErrExtractionParse, got %v", raw, err)
		}
	}
}

func TestDecodeExtractionFormatError(t *testing.T) {
	for _, raw := range []string{
		`[1, 2, 3]`,
		`"just a string"`,
		`42`,
	} {
		if _, err := DecodeExtraction(raw); !errors.Is(err, ErrExtractionFormat) {
			t.Fatalf("%q expected ErrExtractionFormat, got %v", raw, err)
		}
	}
}
