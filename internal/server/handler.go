package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	_ "embed"
)

const (
	statusOK                 = "HTTP/1.1 200 OK"
	statusNotFound           = "HTTP/1.1 404 NOT FOUND"
	statusTooManyRequests    = "HTTP/1.1 429 TOO MANY REQUESTS"
	statusServiceUnavailable = "HTTP/1.1 503 SERVICE UNAVAILABLE"

	rootRequestLine = "GET / HTTP/1.1"

	maxRequestLine = 4096
	maxHeaderLines = 100
)

var (
	//go:embed templates/hello.html
	helloPage []byte

	//go:embed templates/404.html
	notFoundPage []byte
)

// connTask serves one connection on a worker.
type connTask struct {
	conn     net.Conn
	server   *Server
	id       string
	accepted time.Time
}

func (t *connTask) logger() *slog.Logger {
	return t.server.logger.With(
		slog.String("request_id", t.id),
		slog.String("remote", t.conn.RemoteAddr().String()),
	)
}

// Execute implements workerpool.Task.
func (t *connTask) Execute(ctx context.Context) error {
	defer t.conn.Close()

	s := t.server
	readDeadline := time.Now().Add(s.config.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(readDeadline) {
		readDeadline = d
	}
	_ = t.conn.SetReadDeadline(readDeadline)

	reader := bufio.NewReaderSize(t.conn, maxRequestLine)
	line, err := readRequestLine(reader)
	if err != nil {
		return fmt.Errorf("request %s: read request line: %w", t.id, err)
	}
	discardHeaders(reader)

	status, body := route(line)

	_ = t.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := writeResponse(t.conn, status, body); err != nil {
		return fmt.Errorf("request %s: write response: %w", t.id, err)
	}
	s.recordResponse(status)

	t.logger().Debug("request served",
		slog.String("request_line", line),
		slog.String("status", status),
		slog.Duration("elapsed", time.Since(t.accepted)),
	)
	return nil
}

// route maps a request line to a status line and page.
func route(requestLine string) (string, []byte) {
	if requestLine == rootRequestLine {
		return statusOK, helloPage
	}
	return statusNotFound, notFoundPage
}

// readRequestLine returns the first line without its line terminator.
// A final line without a terminator is accepted.
func readRequestLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return "", fmt.Errorf("request line exceeds %d bytes", maxRequestLine)
	case errors.Is(err, io.EOF) && len(line) > 0:
	case err != nil:
		return "", err
	}
	return string(bytes.TrimRight(line, "\r\n")), nil
}

// discardHeaders consumes header lines up to the blank line so that closing
// the connection does not reset it while the client is still sending.
// Errors are ignored: the response does not depend on headers.
func discardHeaders(r *bufio.Reader) {
	for i := 0; i < maxHeaderLines; i++ {
		line, err := r.ReadSlice('\n')
		if err != nil || len(bytes.TrimRight(line, "\r\n")) == 0 {
			return
		}
	}
}

func writeResponse(w io.Writer, status string, body []byte) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s\r\nContent-Length: %d\r\n\r\n", status, len(body))
	b.Write(body)
	_, err := w.Write(b.Bytes())
	return err
}

// statusCode extracts "200" from "HTTP/1.1 200 OK".
func statusCode(status string) string {
	fields := strings.Fields(status)
	if len(fields) < 2 {
		return "unknown"
	}
	return fields[1]
}
