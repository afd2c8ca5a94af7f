package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"lendledger/core/events"
	"lendledger/services/lendingd/journal"
)

const wsWriteTimeout = 10 * time.Second

type eventRoutes struct {
	feed    *events.Feed
	journal *journal.Journal
}

type historyEntry struct {
	journal.Entry
	Attributes map[string]string `json:"attributes"`
}

func (er *eventRoutes) mount(r chi.Router) {
	r.Get("/", er.backlog)
	r.Get("/history", er.history)
	r.Get("/stream", er.stream)
}

func cursorParam(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("invalid cursor %q", raw)
	}
	return cursor, nil
}

func (er *eventRoutes) backlog(w http.ResponseWriter, r *http.Request) {
	if er.feed == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event feed unavailable", Code: "unavailable"})
		return
	}
	cursor, err := cursorParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	records, _, cancel := er.feed.Subscribe(cursor)
	cancel()
	writeJSON(w, http.StatusOK, map[string]any{
		"sequence": er.feed.Sequence(),
		"events":   records,
	})
}

func (er *eventRoutes) history(w http.ResponseWriter, r *http.Request) {
	if er.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event journal disabled", Code: "unavailable"})
		return
	}
	query := r.URL.Query()
	q := journal.Query{
		Type:   query.Get("type"),
		LoanID: query.Get("loanId"),
		Caller: query.Get("caller"),
	}
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, badRequest("invalid after %q", raw))
			return
		}
		q.After = after
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, badRequest("invalid limit %q", raw))
			return
		}
		q.Limit = limit
	}
	entries, err := er.journal.List(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]historyEntry, 0, len(entries))
	for _, entry := range entries {
		evt, err := entry.Event()
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, historyEntry{Entry: entry, Attributes: evt.Attributes})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (er *eventRoutes) stream(w http.ResponseWriter, r *http.Request) {
	if er.feed == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event feed unavailable", Code: "unavailable"})
		return
	}
	cursor, err := cursorParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := streamRecords(ctx, conn, er.feed, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamRecords(ctx context.Context, conn *websocket.Conn, feed *events.Feed, cursor uint64) error {
	backlog, records, cancel := feed.Subscribe(cursor)
	defer cancel()

	for _, record := range backlog {
		if err := writeRecord(ctx, conn, record); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-records:
			if !ok {
				return nil
			}
			if err := writeRecord(ctx, conn, record); err != nil {
				return err
			}
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, record events.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
