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
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"

	"github.com/hivepot/hivepot/lib/defaults"
)

// catchAll answers any request the router does not know. It echoes the
// request back in an HTML page with a 3-second refresh to the public
// URL. Status is 200 on purpose: errors make bots leave, a page that
// looks half-configured makes them dig.
func (h *Handler) catchAll(w http.ResponseWriter, r *http.Request) {
	var body []byte
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body, _ = io.ReadAll(io.LimitReader(r.Body, defaults.MaxEchoBodyBytes))
	}

	target := h.cfg.App.Server.PublicURL
	if target == "" {
		target = "/"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<!DOCTYPE html>
<html>
<head>
<meta http-equiv="refresh" content="3;url=%v">
<title>Redirecting...</title>
</head>
<body>
<h1>Redirecting</h1>
<p>You are being redirected. If nothing happens, <a href="%v">click here</a>.</p>
<hr>
<pre>
%v %v
`, html.EscapeString(target), html.EscapeString(target),
		html.EscapeString(r.Method), html.EscapeString(r.URL.RequestURI()))

	for _, name := range sortedHeaderNames(r.Header) {
		for _, value := range r.Header[name] {
			fmt.Fprintf(&b, "%v: %v\n", html.EscapeString(name), html.EscapeString(value))
		}
	}
	if len(body) > 0 {
		fmt.Fprintf(&b, "\n%v\n", html.EscapeString(string(body)))
	}
	b.WriteString("</pre>\n</body>\n</html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, b.String())
}
