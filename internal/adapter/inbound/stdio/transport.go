// Package stdio is the local transport: Content-Length framed JSON-RPC
// over stdin/stdout, one session per process.
package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/actionbridge/actionbridge/internal/port/inbound"
	"github.com/actionbridge/actionbridge/pkg/mcp"
)

// maxFrameSize caps a single framed message at 1 MB, matching the HTTP
// transport's body limit.
const maxFrameSize = 1 << 20

// Framing errors.
var (
	// ErrMissingLength is returned for frames without a Content-Length
	// header.
	ErrMissingLength = errors.New("stdio: missing Content-Length header")
	// ErrFrameTooLarge is returned when Content-Length exceeds the cap.
	ErrFrameTooLarge = errors.New("stdio: frame exceeds 1MB")
)

// Transport runs one MCP session over stdin/stdout using LSP-style
// Content-Length framing. Unknown headers are skipped; a clean EOF on
// input terminates the session.
type Transport struct {
	gw     inbound.Gateway
	apiKey string
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithIO replaces stdin/stdout, for tests.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(t *Transport) {
		t.in = in
		t.out = out
	}
}

// WithLogger sets the transport's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a stdio transport authenticating with apiKey.
func NewTransport(gw inbound.Gateway, apiKey string, opts ...Option) *Transport {
	t := &Transport{
		gw:     gw,
		apiKey: apiKey,
		in:     os.Stdin,
		out:    os.Stdout,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start authenticates, opens the process session and pumps frames until
// EOF, a framing error, or context cancellation. The raw key never
// reaches logs or error text.
func (t *Transport) Start(ctx context.Context) error {
	principal, err := t.gw.Authenticate(ctx, t.apiKey)
	if err != nil {
		return fmt.Errorf("stdio transport: authentication failed: %w", err)
	}
	sessionID, err := t.gw.OpenSession(ctx, principal, "stdio")
	if err != nil {
		return fmt.Errorf("stdio transport: open session: %w", err)
	}
	defer func() { _ = t.gw.CloseSession(context.Background(), sessionID) }()
	t.logger.Info("stdio session opened", "session_id", sessionID)

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		reader := bufio.NewReader(t.in)
		for {
			frame, err := readFrame(reader)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			t.write(mcp.NewError(nil, mcp.CodeParseError, "malformed frame"))
			return fmt.Errorf("stdio transport: %w", err)
		case frame, ok := <-frames:
			if !ok {
				t.logger.Info("stdio input closed", "session_id", sessionID)
				return nil
			}
			resp, err := t.gw.Dispatch(ctx, sessionID, frame)
			if err != nil {
				return fmt.Errorf("stdio transport: dispatch: %w", err)
			}
			if resp != nil {
				if err := t.write(resp); err != nil {
					return fmt.Errorf("stdio transport: write: %w", err)
				}
			}
		}
	}
}

// write emits one framed message.
func (t *Transport) write(payload []byte) error {
	if _, err := fmt.Fprintf(t.out, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	_, err := t.out.Write(payload)
	return err
}

// readFrame reads one Content-Length framed message. Header names are
// case-insensitive; headers other than Content-Length are skipped.
func readFrame(r *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" && length < 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("stdio: reading frame header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("stdio: malformed header line %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("stdio: bad Content-Length: %w", err)
			}
			length = n
		}
	}

	if length < 0 {
		return nil, ErrMissingLength
	}
	if length > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("stdio: reading frame body: %w", err)
	}
	return frame, nil
}
