package document

import (
	"bytes"
	"errors"
	"io"

	"github.com/wudi/pdfgraph/observability"
	"github.com/wudi/pdfgraph/pdferr"
)

// HeaderScanLimit bounds the forward search for the %PDF- marker.
const HeaderScanLimit = 1024

// DefaultVersion is assumed when the header carries no readable version.
const DefaultVersion = "1.4"

var knownVersions = map[string]bool{
	"1.0": true, "1.1": true, "1.2": true, "1.3": true,
	"1.4": true, "1.5": true, "1.6": true, "1.7": true,
	"2.0": true,
}

// Header is the located file header.
type Header struct {
	// Offset of the '%' in "%PDF-". Cross-reference offsets are taken
	// relative to it.
	Offset  int64
	Version string
}

func findHeader(r io.ReaderAt, size int64, diag observability.Sink) (Header, error) {
	n := int64(HeaderScanLimit)
	if size > 0 && size < n {
		n = size
	}
	buf := make([]byte, n)
	read, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return Header{}, pdferr.Wrap(pdferr.KindHeaderMissing, "document", 0, err)
	}
	buf = buf[:read]

	at := bytes.Index(buf, []byte("%PDF-"))
	if at < 0 {
		return Header{}, pdferr.New(pdferr.KindHeaderMissing, "document", 0, "no %%PDF- marker in the first %d bytes", n)
	}
	h := Header{Offset: int64(at)}
	if at > 0 {
		observability.Warnf(diag, "document", int64(at), "%d bytes of garbage before the header", at)
	}

	v, ok := scanVersion(buf[at+5:])
	switch {
	case !ok:
		observability.Warnf(diag, "document", int64(at), "unreadable header version, assuming %s", DefaultVersion)
		v = DefaultVersion
	case !knownVersions[v]:
		observability.Warnf(diag, "document", int64(at), "unknown header version %s", v)
	}
	h.Version = v
	return h, nil
}

// scanVersion reads a "major.minor" prefix of b, each part one or two
// digits, followed by a non-digit or the end of b.
func scanVersion(b []byte) (string, bool) {
	major := digitRun(b)
	if major == 0 || major > 2 || len(b) <= major || b[major] != '.' {
		return "", false
	}
	minor := digitRun(b[major+1:])
	if minor == 0 || minor > 2 {
		return "", false
	}
	return string(b[:major+1+minor]), true
}

func digitRun(b []byte) int {
	n := 0
	for n < len(b) && isDigit(b[n]) {
		n++
	}
	return n
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func parseVersion(s string) (major, minor int, ok bool) {
	if v, valid := scanVersion([]byte(s)); !valid || v != s {
		return 0, 0, false
	}
	i := 0
	for ; s[i] != '.'; i++ {
		major = major*10 + int(s[i]-'0')
	}
	for _, c := range s[i+1:] {
		minor = minor*10 + int(c-'0')
	}
	return major, minor, true
}

// newerVersion reports whether a names a later version than b.
func newerVersion(a, b string) bool {
	amaj, amin, aok := parseVersion(a)
	bmaj, bmin, bok := parseVersion(b)
	if !aok || !bok {
		return false
	}
	return amaj > bmaj || (amaj == bmaj && amin > bmin)
}
