// Package httpwire reads the minimal HTTP/1.1 request heads turbine understands
// and writes its close-delimited responses.
package httpwire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// EndOfHead terminates a request head.
const EndOfHead = "\r\n\r\n"

var (
	ErrEmptyRequest   = errors.New("http request cannot be empty")
	ErrInvalidHeaders = errors.New("request line must have method, resource, version")
	ErrHeadTooLarge   = errors.New("request head exceeds size limit")
	ErrIncompleteHead = errors.New("connection closed before end of request head")
)

// MethodError reports a method other than GET or POST.
type MethodError struct {
	Method string
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("unknown or unsupported http method: %s", e.Method)
}

type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// ParseMethod accepts only the methods turbine serves.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "GET":
		return MethodGet, nil
	case "POST":
		return MethodPost, nil
	default:
		return "", &MethodError{Method: s}
	}
}

type Request struct {
	Method  Method
	Target  string
	Version string
	// Header keys are lower-cased; repeated headers keep the last value.
	Header map[string]string
}

// ReadHead reads from r until the end-of-head marker, EOF, or limit bytes.
// Bytes after the marker are left unread in r.
func ReadHead(r *bufio.Reader, limit int) ([]byte, error) {
	var head []byte
	for {
		line, err := r.ReadSlice('\n')
		head = append(head, line...)
		if len(head) > limit {
			return head, ErrHeadTooLarge
		}
		if bytes.HasSuffix(head, []byte(EndOfHead)) {
			return head, nil
		}
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			if errors.Is(err, io.EOF) {
				if len(head) == 0 {
					return nil, io.EOF
				}
				return head, ErrIncompleteHead
			}
			return head, err
		}
	}
}

// ParseRequest parses a request head. A head cut short by EOF is still parsed
// as long as its request line is intact.
func ParseRequest(head []byte) (*Request, error) {
	text := strings.TrimSuffix(string(head), EndOfHead)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyRequest
	}

	lines := strings.Split(text, "\r\n")
	words := strings.Fields(lines[0])
	if len(words) != 3 {
		return nil, ErrInvalidHeaders
	}

	method, err := ParseMethod(words[0])
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(words[2], "HTTP/") {
		return nil, ErrInvalidHeaders
	}

	req := &Request{
		Method:  method,
		Target:  words[1],
		Version: words[2],
		Header:  make(map[string]string),
	}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: malformed header line %q", ErrInvalidHeaders, line)
		}
		req.Header[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return req, nil
}

// ReadRequest combines ReadHead and ParseRequest.
func ReadRequest(r *bufio.Reader, limit int) (*Request, error) {
	head, err := ReadHead(r, limit)
	if err != nil && !errors.Is(err, ErrIncompleteHead) {
		return nil, err
	}
	return ParseRequest(head)
}
