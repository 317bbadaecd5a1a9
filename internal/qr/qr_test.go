package qr

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestExtractStudentID(t *testing.T) {
	cases := []struct {
		name string
		code string
		want string
	}{
		{"uuid id", "STU_6f1d2c3a-9b0e-4d5f-8a7b-1c2d3e4f5a6b_1700000000000", "6f1d2c3a-9b0e-4d5f-8a7b-1c2d3e4f5a6b"},
		{"short hex id", "STU_abc123_1700000000000", "abc123"},
		{"missing prefix", "abc123_1700000000000", ""},
		{"wrong prefix", "QR_abc123_1700000000000", ""},
		{"uppercase id rejected", "STU_ABC123_1700000000000", ""},
		{"missing timestamp", "STU_abc123", ""},
		{"non-numeric timestamp", "STU_abc123_17x0", ""},
		{"trailing garbage", "STU_abc123_1700000000000extra", ""},
		{"leading garbage", "xSTU_abc123_1700000000000", ""},
		{"embedded newline", "STU_abc123_170\n0", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractStudentID(tc.code); got != tc.want {
				t.Fatalf("ExtractStudentID(%q) = %q, want %q", tc.code, got, tc.want)
			}
		})
	}
}

func TestStudentCodeRoundTrip(t *testing.T) {
	ids := []string{"abc123", "6f1d2c3a-9b0e-4d5f-8a7b-1c2d3e4f5a6b"}
	for _, id := range ids {
		code := NewStudentCode(id)
		if got := ExtractStudentID(code); got != id {
			t.Fatalf("round trip for %q: code %q resolved to %q", id, code, got)
		}
	}
	// The timestamp is opaque: any digits resolve the same id.
	code := fmt.Sprintf("STU_abc123_%d", time.Now().Add(-time.Hour).UnixMilli())
	if got := ExtractStudentID(code); got != "abc123" {
		t.Fatalf("stale timestamp rejected: %q -> %q", code, got)
	}
}

func TestIsParentCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"QR_ABCD1234", true},
		{"QR_00000000", true},
		{"QR_abcd1234", false},
		{"QR_ABCD123", false},
		{"QR_ABCD12345", false},
		{"QR_ABCD 123", false},
		{"STU_abc123_1700000000000", false},
		{"xQR_ABCD1234", false},
		{"QR_ABCD1234x", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsParentCode(tc.code); got != tc.want {
			t.Fatalf("IsParentCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestNewParentCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := NewParentCode()
		if err != nil {
			t.Fatalf("NewParentCode: %v", err)
		}
		if !IsParentCode(code) {
			t.Fatalf("generated code %q does not match the parent pattern", code)
		}
		if !strings.HasPrefix(code, "QR_") {
			t.Fatalf("generated code %q missing prefix", code)
		}
		seen[code] = true
	}
	if len(seen) < 40 {
		t.Fatalf("expected generated codes to be mostly unique, got %d distinct of 50", len(seen))
	}
}
