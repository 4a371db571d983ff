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

// Package web is the HTTP face of the honeypot. It plays two roles at
// once: it serves the dashboard and its JSON API, and it treats every
// other request as attack traffic, logging it through the same event
// pipeline as the TCP listeners and answering with a bot-friendly echo
// page.
package web

import (
	_ "embed"
	"net/http"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/hivepot/hivepot"
	"github.com/hivepot/hivepot/lib/config"
	"github.com/hivepot/hivepot/lib/events"
	"github.com/hivepot/hivepot/lib/geoip"
	"github.com/hivepot/hivepot/lib/httplib"
	"github.com/hivepot/hivepot/lib/stats"
	"github.com/hivepot/hivepot/lib/storage"
	logutils "github.com/hivepot/hivepot/lib/utils/log"
)

var logger = logutils.NewPackageLogger(hivepot.ComponentKey, hivepot.ComponentWeb)

var (
	//go:embed assets/index.html
	indexHTML []byte
	//go:embed assets/stats.html
	statsHTML []byte
	//go:embed assets/robots.txt
	robotsTxt []byte
)

// Config wires the handler to the rest of the process.
type Config struct {
	App     *config.Config
	Engine  *stats.Engine
	Bus     *events.Bus
	Records *storage.WriteBuffer
	GeoIP   *geoip.Resolver
	// StaticDir is the on-disk root for /static/ requests.
	StaticDir string
}

func (c *Config) checkAndSetDefaults() error {
	if c.App == nil {
		return trace.BadParameter("missing App config")
	}
	if c.Engine == nil {
		return trace.BadParameter("missing stats Engine")
	}
	if c.Bus == nil {
		return trace.BadParameter("missing event Bus")
	}
	if c.Records == nil {
		return trace.BadParameter("missing Records write buffer")
	}
	if c.GeoIP == nil {
		c.GeoIP = geoip.New("")
	}
	if c.StaticDir == "" {
		c.StaticDir = "static"
	}
	return nil
}

// Handler is the root http.Handler: logging middleware wrapped around
// the dashboard router.
type Handler struct {
	cfg    Config
	router *httprouter.Router
}

// NewHandler builds the router and its middleware chain.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{cfg: cfg, router: httprouter.New()}

	h.router.GET("/", servePage(indexHTML))
	h.router.GET("/stats", servePage(statsHTML))
	h.router.GET("/robots.txt", servePlain(robotsTxt))
	h.router.GET("/events", h.handleSSE)
	h.router.GET("/static/*filepath", h.handleStatic)

	h.router.GET("/api/stats", httplib.MakeHandler(h.apiStats))
	h.router.GET("/api/recent", httplib.MakeHandler(h.apiRecent))
	h.router.GET("/api/countries", httplib.MakeHandler(h.apiCountries))
	h.router.GET("/api/locations", httplib.MakeHandler(h.apiLocations))
	h.router.GET("/api/top_ips_requests", httplib.MakeHandler(h.apiTopIPsRequests))
	h.router.GET("/api/top_ips_bandwidth", httplib.MakeHandler(h.apiTopIPsBandwidth))
	h.router.GET("/api/total_bytes", httplib.MakeHandler(h.apiTotalBytes))

	// Everything the router does not know is attack traffic.
	h.router.NotFound = http.HandlerFunc(h.catchAll)
	h.router.MethodNotAllowed = http.HandlerFunc(h.catchAll)
	h.router.HandleOPTIONS = false

	return h, nil
}

// ServeHTTP applies security headers, logs the request as an event and
// dispatches to the router.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w.Header())
	h.logRequest(r)
	h.router.ServeHTTP(w, r)
}

func servePage(body []byte) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(body)
	}
}

func servePlain(body []byte) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(body)
	}
}

// hoursParam parses the ?hours= query parameter, defaulting to 24. Value
// validation is the engine's business.
func hoursParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return 24, nil
	}
	hours, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, trace.BadParameter("invalid hours %q: not a number", raw)
	}
	return hours, nil
}

func (h *Handler) apiStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	hours, err := hoursParam(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return h.cfg.Engine.Stats(r.Context(), hours)
}

func (h *Handler) apiRecent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	return h.cfg.Engine.Recent(r.Context())
}

func (h *Handler) apiCountries(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	hours, err := hoursParam(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return h.cfg.Engine.Countries(r.Context(), hours)
}

func (h *Handler) apiLocations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	hours, err := hoursParam(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return h.cfg.Engine.Locations(r.Context(), hours)
}

func (h *Handler) apiTopIPsRequests(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	hours, err := hoursParam(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return h.cfg.Engine.TopIPsByRequests(r.Context(), hours)
}

func (h *Handler) apiTopIPsBandwidth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	hours, err := hoursParam(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return h.cfg.Engine.TopIPsByBytes(r.Context(), hours)
}

func (h *Handler) apiTotalBytes(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	hours, err := hoursParam(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return h.cfg.Engine.TotalBytes(r.Context(), hours)
}
