package utils

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"573001234567":          "+573001234567",
		"+57 300 123 4567":      "+573001234567",
		"whatsapp:+14155238886": "+14155238886",
		"  ":                    "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOutboundNumber(t *testing.T) {
	cases := []struct {
		phone, code, want string
	}{
		{"+573001234567", "57", "3001234567"},
		// Mexican number that happens to start with 57 after the 52 code is untouched.
		{"+5215712345678", "57", "5215712345678"},
		// Too short to be a Colombian mobile: pass through.
		{"+57123456", "57", "57123456"},
		{"+573001234567", "", "573001234567"},
	}
	for _, tc := range cases {
		if got := OutboundNumber(tc.phone, tc.code); got != tc.want {
			t.Fatalf("OutboundNumber(%q, %q) = %q, want %q", tc.phone, tc.code, got, tc.want)
		}
	}
}
