package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	Terminal = []byte("\r\n")
	space    = []byte(" ")
)

// Encode serialises a command and its optional body into wire bytes.
//
// The length of body is not added to args, callers pass it themselves (put
// takes it as its last argument). A nil body means the verb carries none; an
// empty, non-nil body is written as an empty data line.
func Encode(verb Verb, args []interface{}, body []byte) ([]byte, error) {
	if !verb.Valid() {
		return nil, fmt.Errorf("%s: %w", verb, ErrInvalidCommand)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 32+len(body)))
	buf.WriteString(verb.String())

	for i, arg := range args {
		s, err := formatArg(arg)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", verb, i, err)
		}
		buf.Write(space)
		buf.WriteString(s)
	}
	buf.Write(Terminal)

	if body != nil {
		buf.Write(body)
		buf.Write(Terminal)
	}

	return buf.Bytes(), nil
}

// WriteCommand encodes a command and writes it with a single Write so that it
// is never interleaved with another command on the same stream.
func WriteCommand(w io.Writer, verb Verb, args []interface{}, body []byte) error {
	b, err := Encode(verb, args, body)
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}

func formatArg(arg interface{}) (string, error) {
	switch a := arg.(type) {
	case int:
		return strconv.Itoa(a), nil
	case int32:
		return strconv.FormatInt(int64(a), 10), nil
	case int64:
		return strconv.FormatInt(a, 10), nil
	case uint:
		return strconv.FormatUint(uint64(a), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(a), 10), nil
	case uint64:
		return strconv.FormatUint(a, 10), nil
	case string:
		if a == "" || strings.ContainsAny(a, " \t\r\n") {
			return "", fmt.Errorf("%q: %w", a, ErrInvalidArgument)
		}
		return a, nil
	default:
		return "", fmt.Errorf("%T: %w", arg, ErrInvalidArgument)
	}
}

// WriteStatus writes a response header with no body, e.g. "INSERTED 12\r\n".
func WriteStatus(w io.Writer, status Status, fields ...string) error {
	line := string(status)
	if len(fields) > 0 {
		line += " " + strings.Join(fields, " ")
	}

	_, err := w.Write(append([]byte(line), Terminal...))
	return err
}

// WriteBody writes a body-bearing response. The body length is appended to
// fields.
func WriteBody(w io.Writer, status Status, body []byte, fields ...string) error {
	fields = append(fields, strconv.Itoa(len(body)))

	var buf bytes.Buffer
	buf.WriteString(string(status))
	buf.Write(space)
	buf.WriteString(strings.Join(fields, " "))
	buf.Write(Terminal)
	buf.Write(body)
	buf.Write(Terminal)

	_, err := w.Write(buf.Bytes())
	return err
}
