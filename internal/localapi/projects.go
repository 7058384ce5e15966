package localapi

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/florianilch/devpilot/internal/projectfiles"
)

type projectHandlers struct {
	files     FileLister
	heartbeat time.Duration
}

type filesResponse struct {
	Files []string `json:"files"`
}

func (h *projectHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	root := r.URL.Query().Get("root")

	files, err := h.files.List(ctx, root)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.WarnContext(ctx, "failed to list project files", "root", root, "error", err)
		respondError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}
	if files == nil {
		files = []string{}
	}

	respondJSON(ctx, w, filesResponse{Files: files}, http.StatusOK)
}

// DefaultHeartbeatInterval spaces keep-alive comments on idle watch streams.
const DefaultHeartbeatInterval = 15 * time.Second

// watch streams file events as SSE until the client disconnects.
func (h *projectHandlers) watch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	root := r.URL.Query().Get("root")
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		respondError(ctx, w, "root must be an existing directory", http.StatusBadRequest)
		return
	}

	stream, err := openEventStream(w)
	if err != nil {
		slog.ErrorContext(ctx, "cannot stream project events", "error", err)
		return
	}
	if err := stream.comment("watching " + root); err != nil {
		return
	}

	// The heartbeat writes to w, so it must be gone before the handler returns.
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				if err := stream.comment("ping"); err != nil {
					cancel()
					return
				}
			}
		}
	}()
	defer func() {
		cancel()
		<-heartbeatDone
	}()

	err = h.files.Watch(ctx, root, func(event projectfiles.Event) {
		if err := stream.send("file", event); err != nil {
			slog.DebugContext(ctx, "client disconnected during watch", "error", err)
			cancel()
		}
	})
	if err != nil && ctx.Err() == nil {
		slog.ErrorContext(ctx, "project watch failed", "root", root, "error", err)
		_ = stream.comment("error: " + err.Error())
	}
}
