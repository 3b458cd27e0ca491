// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/potato-foundation/potato/lib/blob"
	"github.com/potato-foundation/potato/lib/catalog"
	"github.com/potato-foundation/potato/lib/registry"
)

// hashHeader carries the publisher's content hash declaration on
// PUT, and the catalog's recorded hash on GET responses.
const hashHeader = "X-Potato-Content-Hash"

// versionHeader reports the exact version a range fetch resolved to.
const versionHeader = "X-Potato-Version"

// handler is the public package API.
type handler struct {
	registry       *registry.Registry
	logger         *slog.Logger
	maxUploadBytes int64
	mux            *http.ServeMux
}

func newHandler(reg *registry.Registry, logger *slog.Logger, maxUploadBytes int64) *handler {
	h := &handler{registry: reg, logger: logger, maxUploadBytes: maxUploadBytes}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /packages", h.handleListPackages)
	mux.HandleFunc("GET /packages/{name}", h.handleListVersions)
	mux.HandleFunc("PUT /packages/{name}/{version}", h.handlePublish)
	mux.HandleFunc("GET /packages/{name}/{version}", h.handleFetch)
	mux.HandleFunc("DELETE /packages/{name}/{version}", h.handleDelete)
	h.mux = mux
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// entryJSON is the wire form of a catalog entry.
type entryJSON struct {
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	ContentHash string     `json:"content_hash"`
	Size        int64      `json:"size"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

func toEntryJSON(entry *catalog.Entry) entryJSON {
	out := entryJSON{
		Name:        entry.Name,
		Version:     entry.Version,
		ContentHash: entry.ContentHash.String(),
		Size:        entry.Size,
		UploadedAt:  entry.UploadedAt,
	}
	if !entry.PublishedAt.IsZero() {
		publishedAt := entry.PublishedAt
		out.PublishedAt = &publishedAt
	}
	return out
}

func (h *handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ver := r.PathValue("version")

	declared := r.Header.Get(hashHeader)
	if declared == "" {
		h.writeError(w, r, &registry.ValidationError{
			Field: "declared hash", Value: "", Reason: fmt.Sprintf("%s header required", hashHeader),
		})
		return
	}
	declaredHash, err := blob.ParseHash(declared)
	if err != nil {
		h.writeError(w, r, &registry.ValidationError{
			Field: "declared hash", Value: declared, Reason: err.Error(),
		})
		return
	}

	if r.ContentLength < 0 {
		h.writeJSON(w, http.StatusLengthRequired, map[string]string{
			"error": "Content-Length required",
		})
		return
	}
	if r.ContentLength > h.maxUploadBytes {
		h.writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("upload exceeds %d byte limit", h.maxUploadBytes),
		})
		return
	}

	entry, err := h.registry.Publish(r.Context(), registry.PublishRequest{
		Name:         name,
		Version:      ver,
		Content:      http.MaxBytesReader(w, r.Body, h.maxUploadBytes),
		ContentType:  r.Header.Get("Content-Type"),
		DeclaredHash: declaredHash,
		DeclaredSize: r.ContentLength,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toEntryJSON(entry))
}

func (h *handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	result, err := h.registry.Fetch(r.Context(), r.PathValue("name"), r.PathValue("version"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer result.Content.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprint(result.Entry.Size))
	w.Header().Set(hashHeader, result.Entry.ContentHash.String())
	w.Header().Set(versionHeader, result.Entry.Version)

	if _, err := io.Copy(w, result.Content); err != nil {
		// The status line is gone; all we can do is cut the
		// stream short so the client's own verification fails.
		h.logger.Error("streaming fetch failed",
			"package", result.Entry.Name, "version", result.Entry.Version, "error", err)
	}
}

func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ver := r.PathValue("version")
	reason := r.URL.Query().Get("reason")

	if err := h.registry.Delete(r.Context(), name, ver, reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	versions, err := h.registry.Versions(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if versions == nil {
		versions = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"name":     name,
		"versions": versions,
	})
}

func (h *handler) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.registry.Packages(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	type packageJSON struct {
		Name     string `json:"name"`
		Versions int    `json:"versions"`
		Latest   string `json:"latest"`
	}
	out := make([]packageJSON, 0, len(packages))
	for _, p := range packages {
		out = append(out, packageJSON{Name: p.Name, Versions: p.VersionCount, Latest: p.LatestVersion})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encoding response failed", "error", err)
	}
}

// writeError maps a registry error onto an HTTP status and a JSON
// body.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation   *registry.ValidationError
		notFound     *catalog.NotFoundError
		conflict     *catalog.ConflictError
		invalidState *catalog.InvalidStateError
		integrity    *registry.IntegrityError
		transient    *registry.TransientError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict), errors.As(err, &invalidState):
		status = http.StatusConflict
	case errors.As(err, &integrity):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &transient):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		// Client went away; nobody is reading the response.
		h.logger.Info("request cancelled",
			"method", r.Method, "path", r.URL.Path)
		return
	}

	if status >= 500 {
		h.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		h.logger.Info("request rejected",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
