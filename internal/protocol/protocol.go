// Package protocol is the socket wire format: one request line in, one JSON
// response line out.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/antonkrylov/mshell/internal/engine"
)

// MaxLineBytes bounds a single request or response line.
const MaxLineBytes = 4 << 20

// ErrPartialLine reports bytes left without a terminating newline when the
// peer went away. They are never handed out as a line.
var ErrPartialLine = errors.New("connection closed mid-line")

// ErrorBody describes a failed command.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the framed reply to one request line.
type Response struct {
	ID     string     `json:"id"`
	Stdout []string   `json:"stdout"`
	Stderr []string   `json:"stderr"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// Err rebuilds the engine error carried by the response, if any.
func (r *Response) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return &engine.Error{Kind: engine.ParseKind(r.Error.Kind), Message: r.Error.Message}
}

// NewResponse builds a response, classifying err when it is non-nil.
func NewResponse(id string, stdout, stderr []string, err error) *Response {
	resp := &Response{ID: id, Stdout: stdout, Stderr: stderr}
	if resp.Stdout == nil {
		resp.Stdout = []string{}
	}
	if resp.Stderr == nil {
		resp.Stderr = []string{}
	}
	if err != nil {
		resp.Error = &ErrorBody{Kind: engine.KindOf(err).String(), Message: engine.MessageOf(err)}
	}
	return resp
}

// Reader reads request or response lines.
type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), MaxLineBytes)
	sc.Split(scanTerminatedLines)
	return &Reader{sc: sc}
}

func scanTerminatedLines(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return 0, nil, fmt.Errorf("%w: %d bytes dropped", ErrPartialLine, len(data))
	}
	return 0, nil, nil
}

// ReadLine returns the next line without its terminator. io.EOF marks an
// orderly close; ErrPartialLine a close in the middle of a line.
func (r *Reader) ReadLine() (string, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSuffix(r.sc.Text(), "\r"), nil
}

// ReadResponse decodes the next response line.
func (r *Reader) ReadResponse() (*Response, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	return DecodeResponse([]byte(line))
}

// WriteRequest frames a single command line. Embedded newlines would split
// it into several requests, so they are refused.
func WriteRequest(w io.Writer, line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.ContainsAny(line, "\r\n") {
		return errors.New("request must be a single line")
	}
	_, err := io.WriteString(w, line+"\n")
	return err
}

// WriteResponse encodes resp as one JSON line.
func WriteResponse(w io.Writer, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func EncodeResponse(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return append(data, '\n'), nil
}

func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
