package protocol

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"strings"
)

const (
	// DefaultMaxLineSize is the longest line accepted when no limit is given (64 KiB)
	DefaultMaxLineSize = 64 * 1024

	// LineTerminator ends every line on the wire
	LineTerminator = '\n'
)

// ErrLineTooLong is wrapped in a KindClosed error when a peer exceeds the limit
var ErrLineTooLong = errors.New("line exceeds maximum size")

// LineReader reads newline-terminated lines from a stream whose reads may
// time out. Bytes received before a timeout are kept, so the next call
// resumes the same line instead of losing it.
type LineReader struct {
	r       *bufio.Reader
	pending []byte
	max     int
}

// NewLineReader wraps r. maxLine <= 0 selects DefaultMaxLineSize.
func NewLineReader(r io.Reader, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}
	return &LineReader{
		r:   bufio.NewReaderSize(r, 4096),
		max: maxLine,
	}
}

// ReadLine returns the next line without its terminator (a trailing \r is
// dropped too). A deadline expiry on the underlying reader surfaces as
// ErrTimeout; EOF and other failures surface as a KindClosed error.
func (lr *LineReader) ReadLine() (string, error) {
	for {
		chunk, err := lr.r.ReadSlice(LineTerminator)
		lr.pending = append(lr.pending, chunk...)
		if len(lr.pending) > lr.max+1 {
			lr.pending = lr.pending[:0]
			return "", Closed(ErrLineTooLong)
		}
		switch {
		case err == nil:
			line := strings.TrimSuffix(string(lr.pending[:len(lr.pending)-1]), "\r")
			lr.pending = lr.pending[:0]
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case isTimeout(err):
			return "", ErrTimeout
		default:
			return "", Closed(err)
		}
	}
}

// Buffered reports whether part of a line is waiting for its terminator.
func (lr *LineReader) Buffered() bool {
	return len(lr.pending) > 0 || lr.r.Buffered() > 0
}

// WriteLine writes line followed by the terminator in a single Write call.
func WriteLine(w io.Writer, line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, LineTerminator)
	if _, err := w.Write(buf); err != nil {
		return Closed(err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
