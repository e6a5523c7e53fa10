package network

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// MaxLineSize is the maximum accepted line length in bytes, excluding the terminator.
	MaxLineSize = 64 * 1024
	// DefaultConnectionTimeout bounds TCP dial duration.
	DefaultConnectionTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds each line write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultInboundBuffer is the number of received lines queued per connection.
	DefaultInboundBuffer = 64
)

var (
	// ErrLineTooLong indicates a line exceeds MaxLineSize.
	ErrLineTooLong = errors.New("network: line exceeds max size")
	// ErrInvalidLine indicates an outbound line contains a line terminator.
	ErrInvalidLine = errors.New("network: line contains newline")
	// ErrConnectionClosed indicates the connection is closed.
	ErrConnectionClosed = errors.New("network: connection closed")
	// ErrConnectFailed indicates an outbound connection could not be established.
	ErrConnectFailed = errors.New("network: connect failed")
)

// Options controls listener, dialer, and connection behavior.
type Options struct {
	ConnectionTimeout time.Duration
	WriteTimeout      time.Duration
	MaxLineSize       int
	InboundBuffer     int
}

func (o Options) withDefaults() Options {
	out := o
	if out.ConnectionTimeout <= 0 {
		out.ConnectionTimeout = DefaultConnectionTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = DefaultWriteTimeout
	}
	if out.MaxLineSize <= 0 {
		out.MaxLineSize = MaxLineSize
	}
	if out.InboundBuffer <= 0 {
		out.InboundBuffer = DefaultInboundBuffer
	}
	return out
}

// WriteLine writes one newline-terminated line.
func WriteLine(w io.Writer, line string, maxSize int) error {
	if strings.ContainsAny(line, "\r\n") {
		return ErrInvalidLine
	}
	if maxSize > 0 && len(line) > maxSize {
		return ErrLineTooLong
	}

	if _, err := io.WriteString(w, line+"\n"); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

// NewLineScanner returns a scanner yielding lines without their LF or CRLF terminator.
func NewLineScanner(r io.Reader, maxSize int) *bufio.Scanner {
	if maxSize <= 0 {
		maxSize = MaxLineSize
	}
	initial := 4096
	if initial > maxSize+2 {
		initial = maxSize + 2
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initial), maxSize+2)
	scanner.Split(scanLines(maxSize))
	return scanner
}

func scanLines(maxSize int) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		advance, token, err := bufio.ScanLines(data, atEOF)
		if err != nil {
			return advance, token, err
		}
		if len(token) > maxSize {
			return 0, nil, ErrLineTooLong
		}
		if token == nil && !atEOF && len(data) > maxSize+1 {
			return 0, nil, ErrLineTooLong
		}
		return advance, token, nil
	}
}

// LineReader reads lines like NewLineScanner, but an oversized line is
// discarded up to its terminator and reported once as ErrLineTooLong. The
// reader stays usable afterwards.
type LineReader struct {
	r       *bufio.Reader
	maxSize int
}

// NewLineReader returns a LineReader over r.
func NewLineReader(r io.Reader, maxSize int) *LineReader {
	if maxSize <= 0 {
		maxSize = MaxLineSize
	}
	return &LineReader{r: bufio.NewReader(r), maxSize: maxSize}
}

// ReadLine returns the next line without its LF or CRLF terminator. It returns
// io.EOF once the input is exhausted.
func (lr *LineReader) ReadLine() (string, error) {
	var line []byte
	tooLong := false

	for {
		chunk, err := lr.r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > lr.maxSize+2 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return "", ErrLineTooLong
			}
			return lr.finish(line)
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLong {
				return "", ErrLineTooLong
			}
			if len(line) == 0 {
				return "", io.EOF
			}
			return lr.finish(line)
		default:
			return "", err
		}
	}
}

func (lr *LineReader) finish(line []byte) (string, error) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) > lr.maxSize {
		return "", ErrLineTooLong
	}
	return string(line), nil
}
