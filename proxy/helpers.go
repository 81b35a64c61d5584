package proxy

import (
	"io"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// decodeLatin1 decodes a Latin-1 string from r.
func decodeLatin1(r io.Reader) (s string, err error) {
	b, err := io.ReadAll(transform.NewReader(r, charmap.ISO8859_1.NewDecoder()))
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// encodeLatin1 encodes s using Latin-1.  Characters that Latin-1 doesn't have
// are an error.
func encodeLatin1(s string) (b []byte, err error) {
	return charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
}
