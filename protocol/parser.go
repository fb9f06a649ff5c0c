package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxBodyLen is the largest body a response may declare, the most a
// beanstalkd server can be configured to accept.
const MaxBodyLen = 1 << 30

var (
	ErrExpectedCRLF = errors.New("job body is not terminated by \\r\\n")
	ErrJobTooBig    = errors.New("job body is larger than the server allows")
)

// Header is a parsed response header line.
type Header struct {
	Status Status
	Fields []string

	// BodyLen is the declared body length, 0 unless Status.HasBody().
	BodyLen int
}

// ParseHeader splits a response header line such as "RESERVED 12 5\r\n" into
// its status and fields. For body-bearing statuses the last field is the body
// length.
func ParseHeader(line []byte) (Header, error) {
	parts := strings.Fields(string(line))
	if len(parts) == 0 {
		return Header{}, fmt.Errorf("empty line: %w", ErrMalformedHeader)
	}

	hdr := Header{
		Status: Status(parts[0]),
		Fields: parts[1:],
	}

	if !hdr.Status.HasBody() {
		return hdr, nil
	}

	if len(hdr.Fields) == 0 {
		return Header{}, fmt.Errorf("%s has no body length: %w", hdr.Status, ErrMalformedHeader)
	}

	n, err := strconv.Atoi(hdr.Fields[len(hdr.Fields)-1])
	if err != nil || n < 0 || n > MaxBodyLen {
		return Header{}, fmt.Errorf("%s body length %q: %w",
			hdr.Status, hdr.Fields[len(hdr.Fields)-1], ErrMalformedHeader)
	}
	hdr.BodyLen = n

	return hdr, nil
}

// ReadFrame reads one response from r.
//
// io.EOF is returned when the stream ends cleanly between responses,
// io.ErrUnexpectedEOF when it ends part way through one.
func ReadFrame(r *bufio.Reader) (*Frame, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	hdr, err := ParseHeader(line)
	if err != nil {
		return nil, err
	}

	frame := &Frame{Status: hdr.Status, Headers: hdr.Fields}

	// A body-bearing status always has a data line, even when it is empty.
	if hdr.Status.HasBody() {
		body, err := readBody(r, hdr.BodyLen)
		if err != nil {
			if errors.Is(err, ErrExpectedCRLF) {
				return nil, fmt.Errorf("%s: %w", hdr.Status, ErrMalformedBody)
			}
			return nil, err
		}
		frame.Body = body
	}

	return frame, nil
}

// Request is a command as received by a server.
type Request struct {
	Verb Verb
	Args []string
	Body []byte
}

// ReadRequest reads one command from r. The body of a put is read using its
// declared byte count; bodies larger than maxBody are discarded and
// ErrJobTooBig is returned, leaving r positioned at the next command.
//
// To avoid denial of service attacks, the provided bufio.Reader
// should be reading from an io.LimitReader or similar Reader to bound
// the size of requests.
func ReadRequest(r *bufio.Reader, maxBody int) (*Request, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(string(line))
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty line: %w", ErrMalformedRequest)
	}

	verb, err := LookupVerb(parts[0])
	if err != nil {
		return nil, err
	}

	req := &Request{Verb: verb, Args: parts[1:]}
	if verb != Put {
		return req, nil
	}

	if len(req.Args) != 4 {
		return nil, fmt.Errorf("put takes 4 arguments, got %d: %w", len(req.Args), ErrMalformedRequest)
	}

	n, err := strconv.Atoi(req.Args[3])
	if err != nil || n < 0 || n > MaxBodyLen {
		return nil, fmt.Errorf("put byte count %q: %w", req.Args[3], ErrMalformedRequest)
	}

	if n > maxBody {
		if _, err := r.Discard(n + len(Terminal)); err != nil {
			return nil, err
		}
		return nil, ErrJobTooBig
	}

	req.Body, err = readBody(r, n)
	if err != nil {
		return nil, err
	}

	return req, nil
}

// readLine reads up to and including the next '\n'. Lines longer than the
// reader's buffer are rejected.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, ErrLineTooLong
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return line, nil
}

// readBody reads exactly n bytes followed by "\r\n".
func readBody(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n+len(Terminal))
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, ErrExpectedCRLF
	}

	return buf[:n:n], nil
}
