/*
 * Hivepot
 * Copyright (C) 2024  Hivepot Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/hivepot/hivepot/lib/defaults"
)

// handleSSE streams live attack events to one dashboard client. Each
// event goes out as an "attack" message; idle periods carry ping
// comments so proxies keep the connection open.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	sub := h.cfg.Bus.Subscribe()
	defer sub.Close()
	logger.Debug("SSE client connected",
		"remote", r.RemoteAddr, "subscribers", h.cfg.Bus.Subscribers())

	keepalive := time.NewTicker(defaults.SSEKeepAliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("SSE client disconnected",
				"remote", r.RemoteAddr, "lagged", sub.Lagged())
			return
		case e := <-sub.C:
			data, err := json.Marshal(e)
			if err != nil {
				logger.Warn("cannot marshal event for SSE", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: attack\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
