package httpwire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

const (
	ContentTypeHTML  = "text/html; charset=UTF-8"
	ContentTypePlain = "text/plain; charset=UTF-8"
)

type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Write serializes the response with an exact Content-Length. turbine never
// keeps a connection alive, so every response carries Connection: close.
func (r *Response) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)

	contentType := r.ContentType
	if contentType == "" {
		contentType = ContentTypeHTML
	}
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", r.StatusCode, http.StatusText(r.StatusCode))
	bw.WriteString("Content-Type: " + contentType + "\r\n")
	bw.WriteString("Content-Length: " + strconv.Itoa(len(r.Body)) + "\r\n")
	bw.WriteString("Connection: close\r\n")
	bw.WriteString("\r\n")
	bw.Write(r.Body)

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// ErrorResponse builds a plain-text response for status.
func ErrorResponse(status int) *Response {
	return &Response{
		StatusCode:  status,
		ContentType: ContentTypePlain,
		Body:        []byte(strconv.Itoa(status) + " " + http.StatusText(status) + "\n"),
	}
}

// StatusForError maps request-reading failures onto status codes. It returns
// 0 for errors that mean the client went away and no response should be sent.
func StatusForError(err error) int {
	var methodErr *MethodError
	switch {
	case errors.Is(err, io.EOF):
		return 0
	case errors.Is(err, ErrHeadTooLarge):
		return http.StatusRequestHeaderFieldsTooLarge
	case errors.As(err, &methodErr):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrEmptyRequest), errors.Is(err, ErrInvalidHeaders):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
