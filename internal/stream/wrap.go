package stream

import (
	"errors"
	"strconv"
)

const (
	// lengthDelimiter ends the hex length prefix
	lengthDelimiter = '.'

	// maxPrefixDigits bounds the hex length prefix; 16 digits cover a uint64
	maxPrefixDigits = 16
)

var (
	// ErrBadLengthPrefix is returned when the length prefix is empty, not lowercase hex, or too long
	ErrBadLengthPrefix = errors.New("bad length prefix")
	// ErrFrameTooLarge is returned when a length prefix exceeds the configured maximum
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// Wrap frames p for a byte stream as <lowercase hex length>.<p>
func Wrap(p []byte) []byte {
	prefix := strconv.FormatUint(uint64(len(p)), 16)
	out := make([]byte, 0, len(prefix)+1+len(p))
	out = append(out, prefix...)
	out = append(out, lengthDelimiter)
	return append(out, p...)
}

// parseLength decodes a lowercase hex length prefix
func parseLength(token []byte) (uint64, error) {
	if len(token) == 0 || len(token) > maxPrefixDigits {
		return 0, ErrBadLengthPrefix
	}
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return 0, ErrBadLengthPrefix
		}
	}
	n, err := strconv.ParseUint(string(token), 16, 64)
	if err != nil {
		return 0, ErrBadLengthPrefix
	}
	return n, nil
}
