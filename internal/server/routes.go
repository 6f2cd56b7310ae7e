package server

import (
	"errors"
	"io"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/quotes-service/internal/auth/jwt"
	"github.com/vyrodovalexey/quotes-service/internal/auth/mtls"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
	"github.com/vyrodovalexey/quotes-service/internal/outbound"
)

// Route paths.
const (
	InfoPath    = "/r/quotes-service/info"
	HealthPath  = "/r/quotes-service/health"
	SessionPath = "/api/session"
	RelayPrefix = "/api/gateway"
)

// relayedResponseHeaders are copied from the upstream response.
var relayedResponseHeaders = []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified"}

// relayedRequestHeaders are copied onto the upstream request. Credentials
// are not: the forwarder sets them from the verified token.
var relayedRequestHeaders = []string{"Content-Type", "If-None-Match", "If-Modified-Since"}

// InfoResponse is served on the public info endpoint.
type InfoResponse struct {
	Service string `json:"service"`
	BuildInfo
	Uptime string `json:"uptime"`
}

// SessionResponse describes the authenticated caller.
type SessionResponse struct {
	CommonName        string              `json:"commonName"`
	SubjectDN         string              `json:"subjectDn"`
	Subject           string              `json:"subject"`
	Issuer            string              `json:"issuer"`
	PreferredUsername string              `json:"preferredUsername,omitempty"`
	ExpiresAt         *time.Time          `json:"expiresAt,omitempty"`
	Roles             map[string][]string `json:"roles"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var ginModeOnce sync.Once

func (s *Server) newEngine() *gin.Engine {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(routeLabel)

	engine.GET(InfoPath, s.handleInfo)
	engine.GET(HealthPath, s.handleHealth)
	engine.GET(SessionPath, s.handleSession)
	if s.upstream != nil {
		engine.Any(RelayPrefix+"/*path", s.handleRelay)
	}
	for _, register := range s.routes {
		register(engine)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	return engine
}

// routeLabel reports the matched route template to the metrics middleware.
func routeLabel(c *gin.Context) {
	if route := c.FullPath(); route != "" {
		observability.SetRoute(c.Request.Context(), route)
	}
	c.Next()
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, InfoResponse{
		Service:   s.config.Service.Name,
		BuildInfo: s.build,
		Uptime:    s.Uptime().Truncate(time.Second).String(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSession(c *gin.Context) {
	ctx := c.Request.Context()
	token, ok := jwt.TokenFromContext(ctx)
	if !ok {
		// Only reachable when the route is configured as public.
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "no verified token"})
		return
	}
	identity, _ := mtls.IdentityFromContext(ctx)

	resp := SessionResponse{
		CommonName:        identity.CommonName,
		SubjectDN:         identity.SubjectDN,
		Subject:           token.Subject(),
		Issuer:            token.Issuer(),
		PreferredUsername: token.Claims.PreferredUsername,
		Roles:             token.Claims.RoleScopes(),
	}
	if exp := token.ExpiresAt(); !exp.IsZero() {
		resp.ExpiresAt = &exp
	}
	c.JSON(http.StatusOK, resp)
}

// handleRelay sends the request to the upstream gateway under the same
// sub-path. The caller's token travels on the request context.
func (s *Server) handleRelay(c *gin.Context) {
	ref := path.Clean("/" + c.Param("path"))

	req, err := s.upstream.NewPathRequest(c.Request.Context(), c.Request.Method, ref, c.Request.URL.RawQuery, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid upstream path"})
		return
	}
	req.ContentLength = c.Request.ContentLength
	for _, h := range relayedRequestHeaders {
		if v := c.Request.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	resp, err := s.upstream.Do(req)
	if err != nil {
		if errors.Is(err, outbound.ErrCircuitOpen) {
			c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "upstream unavailable"})
			return
		}
		c.JSON(http.StatusBadGateway, errorResponse{Error: "bad gateway"})
		return
	}
	defer resp.Body.Close()

	for _, h := range relayedResponseHeaders {
		if v := resp.Header.Get(h); v != "" {
			c.Header(h, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		s.logger.WithContext(c.Request.Context()).Warn("relaying upstream response failed",
			observability.String("path", ref),
			observability.Error(err),
		)
	}
}
