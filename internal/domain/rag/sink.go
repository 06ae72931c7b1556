package rag

import (
	"context"
	"time"

	applog "docsearch/internal/platform/log"
)

// LogSink writes status events to the application log.
type LogSink struct{}

func (LogSink) RecordStatus(_ context.Context, ev StatusEvent) error {
	applog.Info("[RAG/Status] Document status changed",
		"doc_id", ev.DocumentID,
		"status", ev.Status,
		"media_kind", ev.MediaKind,
		"bytes", ev.ByteLength,
		"chunks", ev.ChunkCount,
		"reason", ev.Reason,
	)
	return nil
}

const sinkTimeout = 5 * time.Second

// emitStatus fans ev out to every sink. A failing sink is logged and skipped.
// Delivery outlives a cancelled request so the audit trail stays complete.
func emitStatus(ctx context.Context, sinks []StatusSink, ev StatusEvent) {
	if len(sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	for _, s := range sinks {
		if err := s.RecordStatus(ctx, ev); err != nil {
			applog.Warn("[RAG/Status] Status sink failed",
				"doc_id", ev.DocumentID,
				"status", ev.Status,
				"error", err,
			)
		}
	}
}
