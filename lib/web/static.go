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
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// handleStatic serves files under the static root. Both the root and
// the requested file are canonicalized (symlinks resolved) and the file
// is served only when it stays a descendant of the root; everything
// else is treated as a traversal attempt.
func (h *Handler) handleStatic(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	root, err := filepath.Abs(h.cfg.StaticDir)
	if err == nil {
		root, err = filepath.EvalSymlinks(root)
	}
	if err != nil {
		http.NotFound(w, r)
		return
	}

	// filepath.Join cleans the path, so a ".." escape shows up as a
	// result outside the root before any filesystem access.
	requested := filepath.Join(root, filepath.FromSlash(p.ByName("filepath")))
	if !contained(root, requested) {
		h.denyStatic(w, r)
		return
	}
	// A symlink inside the root can still point outside it.
	resolved, err := filepath.EvalSymlinks(requested)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if !contained(root, resolved) {
		h.denyStatic(w, r)
		return
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, resolved)
}

func contained(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

func (h *Handler) denyStatic(w http.ResponseWriter, r *http.Request) {
	logger.Warn("static path traversal attempt",
		"path", r.URL.Path, "remote", r.RemoteAddr)
	http.Error(w, "Forbidden", http.StatusForbidden)
}
