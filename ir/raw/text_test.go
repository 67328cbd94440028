package raw

import "testing"

func TestStringText(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
		enc  Encoding
	}{
		{"pdfdoc", []byte("caf\xe9 \x80"), "café •", EncodingPDFDoc},
		{"utf16be", []byte{0xFE, 0xFF, 0x00, 0x48, 0x00, 0x69}, "Hi", EncodingUTF16BE},
		{"utf16le", []byte{0xFF, 0xFE, 0x48, 0x00, 0x69, 0x00}, "Hi", EncodingUTF16LE},
		{"utf8", []byte("\xEF\xBB\xBFHé"), "Hé", EncodingUTF8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Str(tc.in)
			if s.Encoding() != tc.enc {
				t.Fatalf("encoding %d, want %d", s.Encoding(), tc.enc)
			}
			if got := s.Text(); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTextStringPicksEncoding(t *testing.T) {
	if s := TextString("plain – text"); s.Encoding() != EncodingPDFDoc || s.Text() != "plain – text" {
		t.Fatalf("en dash fits PDFDocEncoding, got % x", s.Bytes)
	}
	if s := TextString("日本"); s.Encoding() != EncodingUTF16BE || s.Text() != "日本" {
		t.Fatalf("expected UTF-16BE, got % x", s.Bytes)
	}
}
