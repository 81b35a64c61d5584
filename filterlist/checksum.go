package filterlist

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrChecksumMismatch is returned when the checksum of a downloaded list
// doesn't match the one in the list and the update isn't confirmed.
const ErrChecksumMismatch errors.Error = "checksum mismatch"

var (
	reChecksumLine = regexp.MustCompile(`(?im)^\s*!\s*checksum[\s\-:]+([\w\+\/=]+).*\n`)
	reEmptyLines   = regexp.MustCompile(`\n+`)
)

// ChecksumError describes a list with a wrong checksum.
type ChecksumError struct {
	// Found is the checksum from the list.
	Found string

	// Calculated is the checksum of the list contents.
	Calculated string
}

// type check
var _ error = (*ChecksumError)(nil)

// Error implements the error interface for *ChecksumError.
func (err *ChecksumError) Error() (msg string) {
	return fmt.Sprintf("%s: found %q, calculated %q", ErrChecksumMismatch, err.Found, err.Calculated)
}

// Unwrap implements the [errors.Wrapper] interface for *ChecksumError.
func (err *ChecksumError) Unwrap() (unwrapped error) {
	return ErrChecksumMismatch
}

// ValidateChecksum checks the "! checksum:" line of a list.  A list without a
// checksum line can't be verified and is considered valid.  A mismatch is
// reported as a *ChecksumError.
func ValidateChecksum(data []byte) (err error) {
	text := string(data)

	m := reChecksumLine.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	found := m[1]
	calculated := Checksum(text)
	if calculated == found {
		return nil
	}

	return &ChecksumError{
		Found:      found,
		Calculated: calculated,
	}
}

// Checksum calculates the checksum of a list: the unpadded base64 of the MD5
// digest of its text with "\r" characters, empty lines, and the checksum line
// removed.
func Checksum(text string) (sum string) {
	text = strings.ReplaceAll(text, "\r", "")
	text = reEmptyLines.ReplaceAllLiteralString(text, "\n")
	text = reChecksumLine.ReplaceAllLiteralString(text, "")

	digest := md5.Sum([]byte(text))

	return base64.RawStdEncoding.EncodeToString(digest[:])
}
