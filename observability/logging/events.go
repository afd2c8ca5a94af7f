package logging

import (
	"log/slog"
	"sort"

	"lendledger/core/events"
)

// EventLogger returns an emitter that writes each ledger event as one INFO
// line with its attributes in a stable order. Attributes outside the redaction
// allowlist are masked.
func EventLogger(logger *slog.Logger) events.Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return events.EmitterFunc(func(evt events.Event) {
		if evt == nil {
			return
		}
		args := []any{slog.String("type", evt.EventType())}
		if payload, ok := evt.(events.Payload); ok && payload.Event() != nil {
			attrs := payload.Event().Attributes
			keys := make([]string, 0, len(attrs))
			for k := range attrs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			group := make([]any, 0, len(keys))
			for _, k := range keys {
				group = append(group, MaskField(k, attrs[k]))
			}
			args = append(args, slog.Group("attributes", group...))
		}
		logger.Info("ledger event", args...)
	})
}
