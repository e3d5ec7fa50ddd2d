package accessory

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeDocument(t *testing.T) {
	doc, err := DecodeDocument(strings.NewReader(`{"POWER":"ON","temp":21.5}`))
	if err != nil {
		t.Fatalf("DecodeDocument() error = %v", err)
	}
	if doc["POWER"] != "ON" {
		t.Errorf("POWER = %v, want ON", doc["POWER"])
	}

	for _, body := range []string{"", "not json", "[1,2]", "null"} {
		if _, err := DecodeDocument(strings.NewReader(body)); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("DecodeDocument(%q) error = %v, want ErrInvalidValue", body, err)
		}
	}
}

func TestExtractBool(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		on, off string
		want    bool
		wantErr error
	}{
		{name: "on literal", body: `{"POWER":"ON"}`, on: "ON", off: "OFF", want: true},
		{name: "off literal", body: `{"POWER":"OFF"}`, on: "ON", off: "OFF", want: false},
		{name: "numeric literal", body: `{"POWER":1}`, on: "1", off: "0", want: true},
		{name: "bool literal", body: `{"POWER":false}`, on: "true", off: "false", want: false},
		{name: "empty off accepts anything", body: `{"POWER":"STANDBY"}`, on: "ON", off: "", want: false},
		{name: "unrecognised", body: `{"POWER":"STANDBY"}`, on: "ON", off: "OFF", wantErr: ErrUnrecognisedValue},
		{name: "missing", body: `{"other":"ON"}`, on: "ON", off: "OFF", wantErr: ErrFieldMissing},
		{name: "null", body: `{"POWER":null}`, on: "ON", off: "OFF", wantErr: ErrFieldMissing},
		{name: "object", body: `{"POWER":{"a":1}}`, on: "ON", off: "OFF", wantErr: ErrInvalidValue},
		{name: "case sensitive", body: `{"POWER":"on"}`, on: "ON", off: "OFF", wantErr: ErrUnrecognisedValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := DecodeDocument(strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("DecodeDocument() error = %v", err)
			}
			got, err := ExtractBool(doc, "POWER", tt.on, tt.off)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ExtractBool() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractBool() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    float64
		wantErr error
	}{
		{name: "float", body: `{"v":21.5}`, want: 21.5},
		{name: "integer", body: `{"v":-3}`, want: -3},
		{name: "numeric string", body: `{"v":" 48.2 "}`, want: 48.2},
		{name: "garbage string", body: `{"v":"warm"}`, wantErr: ErrInvalidValue},
		{name: "bool", body: `{"v":true}`, wantErr: ErrInvalidValue},
		{name: "missing", body: `{}`, wantErr: ErrFieldMissing},
		{name: "infinite string", body: `{"v":"Inf"}`, wantErr: ErrInvalidValue},
		{name: "nan string", body: `{"v":"NaN"}`, wantErr: ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := DecodeDocument(strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("DecodeDocument() error = %v", err)
			}
			got, err := ExtractNumber(doc, "v")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ExtractNumber() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractNumber() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractNumber() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractNumber_PlainFloat(t *testing.T) {
	got, err := ExtractNumber(Document{"v": 12.25}, "v")
	if err != nil || got != 12.25 {
		t.Errorf("ExtractNumber() = %v, %v; want 12.25, nil", got, err)
	}
}

func TestParseSwitchPayload(t *testing.T) {
	tests := []struct {
		payload string
		want    bool
		wantErr bool
	}{
		{"1", true, false},
		{"0", false, false},
		{" 1\n", true, false},
		{"ON", false, true},
		{"", false, true},
		{"2", false, true},
	}
	for _, tt := range tests {
		got, err := ParseSwitchPayload([]byte(tt.payload))
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSwitchPayload(%q) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseSwitchPayload(%q) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}

func TestParseNumberPayload(t *testing.T) {
	if got, err := ParseNumberPayload([]byte("22.4")); err != nil || got != 22.4 {
		t.Errorf("ParseNumberPayload(22.4) = %v, %v", got, err)
	}
	for _, bad := range []string{"", "abc", "NaN", "+Inf", `{"t":1}`} {
		if _, err := ParseNumberPayload([]byte(bad)); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("ParseNumberPayload(%q) error = %v, want ErrInvalidValue", bad, err)
		}
	}
}

func TestSwitchPayload(t *testing.T) {
	if string(SwitchPayload(true)) != "1" || string(SwitchPayload(false)) != "0" {
		t.Errorf("SwitchPayload() = %q/%q, want 1/0", SwitchPayload(true), SwitchPayload(false))
	}
}
