// Package exporter ships encoded timeline snapshots to a remote HTTP endpoint.
package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/alesr/tidslinje/compress"
	"github.com/alesr/tidslinje/snapshot"
)

const (
	contentType       = "application/octet-stream"
	headerCompression = "X-Tidslinje-Compression"
	headerSnapshotID  = "X-Tidslinje-Snapshot"
	headerSource      = "X-Tidslinje-Source"

	maxErrorBody = 4 << 10
)

// Error is a transport error, also the JSON body a server may answer with.
type Error struct {
	Message string `json:"message"`
}

// Error implements the error interface.
func (e Error) Error() string {
	return e.Message
}

// ErrInputChannelClosed is returned by Run when the snapshot channel closes.
var ErrInputChannelClosed = Error{Message: "input channel closed"}

// Stats reports exporter counters.
type Stats struct {
	Sent   uint64
	Failed uint64
	Bytes  uint64 // encoded bytes accepted by the server
}

// Exporter posts snapshots to {baseURL}/snapshot.
type Exporter struct {
	baseURL     *url.URL
	cli         *http.Client
	inputCh     <-chan *snapshot.Snapshot
	compression compress.Type
	logger      *slog.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
	bytes  atomic.Uint64
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithCompression sets the snapshot body compression. The default is zstd.
func WithCompression(t compress.Type) Option {
	return func(e *Exporter) {
		if _, err := compress.GetCodec(t); err == nil {
			e.compression = t
		}
	}
}

// WithLogger sets the exporter logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExporter creates a new Exporter instance.
func NewExporter(baseURL string, httpCli *http.Client, inputCh <-chan *snapshot.Snapshot, opts ...Option) (*Exporter, error) {
	if baseURL == "" || httpCli == nil || inputCh == nil {
		return nil, errors.New("invalid arguments")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	e := &Exporter{
		baseURL:     u,
		cli:         httpCli,
		inputCh:     inputCh,
		compression: compress.Zstd,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run sends every snapshot received on the input channel until ctx is done
// or the channel closes. A failed send is logged and counted, and Run moves
// on to the next snapshot.
func (e *Exporter) Run(ctx context.Context) error {
	for {
		select {
		case s, ok := <-e.inputCh:
			if !ok {
				return ErrInputChannelClosed
			}
			if err := e.Send(ctx, s); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Error("exporter: failed to send snapshot", "id", s.ID.String(), "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send encodes s and posts it to the remote endpoint.
func (e *Exporter) Send(ctx context.Context, s *snapshot.Snapshot) error {
	if err := e.send(ctx, s); err != nil {
		e.failed.Add(1)
		return err
	}
	return nil
}

func (e *Exporter) send(ctx context.Context, s *snapshot.Snapshot) error {
	u := *e.baseURL
	endpoint, err := url.JoinPath(u.String(), "snapshot")
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	b, err := snapshot.Encode(s, snapshot.WithCompression(e.compression))
	if err != nil {
		return fmt.Errorf("could not encode snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(headerCompression, e.compression.String())
	req.Header.Set(headerSnapshotID, s.ID.String())
	req.Header.Set(headerSource, s.Source.String())

	resp, err := e.cli.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d: %w", resp.StatusCode, responseError(resp))
	}

	e.sent.Add(1)
	e.bytes.Add(uint64(len(b)))
	e.logger.Debug("exporter: snapshot sent", "id", s.ID.String(), "entries", s.Len(), "bytes", len(b))
	return nil
}

// responseError reads the server's JSON Error body, falling back to the
// status text.
func responseError(resp *http.Response) Error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		var e Error
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return e
		}
	}
	return Error{Message: http.StatusText(resp.StatusCode)}
}

// Stats returns the exporter counters.
func (e *Exporter) Stats() Stats {
	return Stats{
		Sent:   e.sent.Load(),
		Failed: e.failed.Load(),
		Bytes:  e.bytes.Load(),
	}
}
