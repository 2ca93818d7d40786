package gmail

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// errNoAttachmentData is returned when the envelope has no "data" string.
var errNoAttachmentData = errors.New("attachment response has no data field")

// attachmentData returns a reader over the decoded bytes of the "data"
// member of an attachment envelope ({"size":N,"data":"<base64url>"}).
// Only the object keys before "data" are buffered; the payload itself is
// decoded as it is read.
func attachmentData(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	if err := seekDataValue(br); err != nil {
		return nil, err
	}
	return base64.NewDecoder(base64.RawURLEncoding, &stringValueReader{br: br}), nil
}

// seekDataValue advances br to the first byte inside the string value of
// the "data" key.
func seekDataValue(br *bufio.Reader) error {
	lastKey, haveKey := "", false
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return errNoAttachmentData
			}
			return err
		}
		switch b {
		case '"':
			s, err := readString(br)
			if err != nil {
				return err
			}
			lastKey, haveKey = s, true
		case ':':
			if haveKey && lastKey == "data" {
				return skipToQuote(br)
			}
			haveKey = false
		case ' ', '\t', '\r', '\n':
		default:
			haveKey = false
		}
	}
}

func skipToQuote(br *bufio.Reader) error {
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return errNoAttachmentData
			}
			return err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '"':
			return nil
		default:
			return fmt.Errorf("attachment data is not a string (found %q)", b)
		}
	}
}

// readString reads a JSON string body up to its closing quote.
func readString(br *bufio.Reader) (string, error) {
	var buf []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		switch b {
		case '"':
			return string(buf), nil
		case '\\':
			next, err := br.ReadByte()
			if err != nil {
				return "", io.ErrUnexpectedEOF
			}
			buf = append(buf, next)
		default:
			buf = append(buf, b)
		}
	}
}

// stringValueReader yields the bytes of a JSON string value up to its
// closing quote, dropping base64 padding.
type stringValueReader struct {
	br   *bufio.Reader
	done bool
}

func (s *stringValueReader) Read(p []byte) (int, error) {
	if s.done {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) {
		b, err := s.br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return n, io.ErrUnexpectedEOF
			}
			return n, err
		}
		switch b {
		case '"':
			s.done = true
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		case '=', '\\':
			continue
		}
		p[n] = b
		n++
	}
	return n, nil
}
