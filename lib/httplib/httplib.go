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

// Package httplib implements common utility functions for writing
// classic HTTP handlers.
package httplib

import (
	"encoding/json"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

// HandlerFunc is an HTTP handler that returns a JSON-serializable result
// or an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error)

// MakeHandler turns a HandlerFunc into an httprouter.Handle, translating
// returned errors into JSON error responses.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err)
			return
		}
		ReplyJSON(w, http.StatusOK, out)
	}
}

// ReplyJSON writes obj as the JSON response body.
func ReplyJSON(w http.ResponseWriter, code int, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(obj)
}

// ReplyError maps an error to its HTTP status and writes an
// {"error": ...} body.
func ReplyError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case trace.IsBadParameter(err):
		code = http.StatusBadRequest
	case trace.IsNotFound(err):
		code = http.StatusNotFound
	case trace.IsAccessDenied(err):
		code = http.StatusForbidden
	case trace.IsLimitExceeded(err):
		code = http.StatusTooManyRequests
	}
	ReplyJSON(w, code, map[string]string{"error": trace.UserMessage(err)})
}
