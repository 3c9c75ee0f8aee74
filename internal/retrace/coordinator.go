package retrace

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Outcome is the result of one decode attempt. All fields nil means
// decoding was not attempted (no client configured or no mapping
// available); DecodeError set means it was attempted and failed. The
// caller falls back to the raw trace in both cases.
type Outcome struct {
	Decoded     *string
	DecodedAt   *time.Time
	DecodeError *string
}

// Attempted reports whether a decode was tried at all.
func (o Outcome) Attempted() bool {
	return o.Decoded != nil || o.DecodeError != nil
}

// Coordinator runs the decode step of the ingestion pipeline. A decode
// failure never fails ingestion: the error is captured on the crash
// record and the pipeline continues with the raw trace.
type Coordinator struct {
	client Client
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator. A nil client disables decoding.
func NewCoordinator(client Client, logger *slog.Logger) *Coordinator {
	return &Coordinator{client: client, logger: logger}
}

// Process attempts to deobfuscate the raw trace with the given mapping
// file. It returns a zero Outcome when no decode applies, never an error.
func (c *Coordinator) Process(ctx context.Context, raw string, mapping []byte) Outcome {
	outcome, err := c.Decode(ctx, raw, mapping)
	if err != nil {
		c.logger.Warn("stack trace decode failed", "error", err)
	}
	return outcome
}

// Decode is Process with the client error exposed, for callers that
// map transport failures onto their own responses. The returned
// Outcome still carries the failure so it can be persisted.
func (c *Coordinator) Decode(ctx context.Context, raw string, mapping []byte) (Outcome, error) {
	if c.client == nil || len(mapping) == 0 || raw == "" {
		return Outcome{}, nil
	}

	lines := strings.Split(raw, "\n")
	decoded, err := c.client.Retrace(ctx, lines, mapping)
	if err != nil {
		msg := err.Error()
		return Outcome{DecodeError: &msg}, err
	}

	joined := strings.Join(decoded, "\n")
	now := time.Now().UTC()
	return Outcome{Decoded: &joined, DecodedAt: &now}, nil
}
