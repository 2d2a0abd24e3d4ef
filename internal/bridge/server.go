package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"deskshell/internal/metrics"
)

// TokenHeader carries the page token when it is not in the query string.
const TokenHeader = "X-Deskshell-Token"

type response struct {
	Ok    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type openRequest struct {
	URL string `json:"url"`
}

type pageStatus struct {
	ID     string `json:"id"`
	Parent string `json:"parent,omitempty"`
	Loaded bool   `json:"loaded"`
}

// Server is the local HTTP endpoint pages talk to.
type Server struct {
	http     *http.Server
	hub      *Hub
	metrics  *metrics.Metrics
	log      zerolog.Logger
	maxConns int
	listener net.Listener
}

// NewServer builds the router. allowedOrigin is echoed in CORS headers so
// the hosted dashboard may call the loopback endpoint.
func NewServer(addr string, maxConns int, allowedOrigin string, hub *Hub, m *metrics.Metrics, log zerolog.Logger) *Server {
	s := &Server{hub: hub, metrics: m, log: log, maxConns: maxConns}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(allowedOrigin))
	s.RegisterRoutes(router)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// RegisterRoutes wires bridge routes onto router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/v1/ping", s.ping)
	router.GET("/bridge.js", s.script)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	pages := router.Group("/v1/pages/:id", s.pageAuth)
	pages.GET("", s.pageStatus)
	pages.POST("/loaded", s.loaded)
	pages.GET("/messages", s.messages)
	pages.POST("/open", s.open)
	pages.POST("/closed", s.closed)
}

// Listen binds the configured address and returns the base URL pages call.
func (s *Server) Listen() (string, error) {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return "", fmt.Errorf("listening on %s: %w", s.http.Addr, err)
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	s.listener = ln
	return "http://" + ln.Addr().String(), nil
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	if s.listener == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	s.log.Info().Str("addr", s.listener.Addr().String()).Int("max_conns", s.maxConns).Msg("Bridge server started")
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) pageAuth(c *gin.Context) {
	p, err := s.hub.Page(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, response{Ok: false, Error: err.Error()})
		return
	}

	token := c.Query("token")
	if token == "" {
		token = c.GetHeader(TokenHeader)
	}
	if !VerifyToken(token, p.ID(), s.hub.secret) {
		s.log.Warn().Str("page", p.ID()).Str("remote", c.ClientIP()).Msg("Page token validation failed")
		c.AbortWithStatusJSON(http.StatusUnauthorized, response{Ok: false, Error: "invalid token"})
		return
	}
	c.Set("page", p)
	c.Next()
}

func page(c *gin.Context) *Page {
	return c.MustGet("page").(*Page)
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, response{Ok: true})
}

func (s *Server) script(c *gin.Context) {
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(bridgeJS))
}

func (s *Server) pageStatus(c *gin.Context) {
	p := page(c)
	c.JSON(http.StatusOK, response{Ok: true, Data: pageStatus{ID: p.ID(), Parent: p.ParentID(), Loaded: p.HasLoaded()}})
}

func (s *Server) loaded(c *gin.Context) {
	p := page(c)
	p.Loaded()
	s.log.Debug().Str("page", p.ID()).Msg("Page finished loading")
	c.JSON(http.StatusOK, response{Ok: true})
}

func (s *Server) messages(c *gin.Context) {
	msgs := page(c).Drain()
	if msgs == nil {
		msgs = []Message{}
	}
	if s.metrics != nil && len(msgs) > 0 {
		s.metrics.BridgeMessages.WithLabelValues("delivered").Add(float64(len(msgs)))
	}
	c.JSON(http.StatusOK, response{Ok: true, Data: msgs})
}

func (s *Server) open(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response{Ok: false, Error: err.Error()})
		return
	}
	if err := page(c).RequestOpen(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, response{Ok: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response{Ok: true})
}

func (s *Server) closed(c *gin.Context) {
	page(c).CloseAfter(s.hub.closeGrace())
	c.JSON(http.StatusOK, response{Ok: true})
}

func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Headers", "Content-Type, "+TokenHeader)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// bridgeJS is served to the dashboard. It reports the load, polls for
// messages and writes machine-info data into localStorage.
const bridgeJS = `(function () {
  var params = new URLSearchParams(window.location.search);
  var page = params.get("deskshell_page");
  var token = params.get("deskshell_token");
  var base = params.get("deskshell_bridge");
  if (!page || !token || !base) { return; }

  var root = base + "/v1/pages/" + encodeURIComponent(page);
  var headers = { "Content-Type": "application/json", "X-Deskshell-Token": token };

  function post(path, body) {
    return fetch(root + path, { method: "POST", headers: headers, body: JSON.stringify(body || {}) });
  }

  function apply(msg) {
    if (msg.type !== "machine-info" || !msg.data) { return; }
    Object.keys(msg.data).forEach(function (k) { localStorage.setItem(k, msg.data[k]); });
    window.dispatchEvent(new CustomEvent("deskshell:machine-info", { detail: msg }));
  }

  function poll(attempt) {
    fetch(root + "/messages", { headers: headers })
      .then(function (r) { return r.json(); })
      .then(function (body) {
        var msgs = (body && body.data) || [];
        msgs.forEach(apply);
        if (msgs.length === 0 && attempt < 20) { setTimeout(function () { poll(attempt + 1); }, 250); }
      });
  }

  window.deskshell = { open: function (url) { return post("/open", { url: url }); } };
  window.addEventListener("pagehide", function (event) {
    if (event.persisted) { return; }
    navigator.sendBeacon(root + "/closed?token=" + encodeURIComponent(token));
  });
  post("/loaded").then(function () { poll(0); });
})();
`
