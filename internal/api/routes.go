package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Aslarex/go-curl2/internal/fetcherr"
	"github.com/Aslarex/go-curl2/internal/json"
	log "github.com/Aslarex/go-curl2/internal/logging"
	"github.com/Aslarex/go-curl2/internal/request"
	"github.com/gin-gonic/gin"
)

// maxDocumentSize bounds an incoming request document.
const maxDocumentSize = 8 << 20

// hopHeaders are not copied from a streamed upstream reply. The body is
// re-framed by this server. Content-Encoding is dropped separately, and only
// when the transport decoded the body.
var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Trailer":           {},
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	v1 := s.engine.Group("/v1")
	v1.Use(s.authMiddleware())
	{
		v1.GET("/capabilities", s.handleCapabilities)
		v1.POST("/fetch", s.handleFetch)
		v1.POST("/stream", s.handleStream)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		writeJSON(c, http.StatusNotFound, gin.H{"error": gin.H{"kind": "not_found", "message": "no such route"}})
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"status":   "ok",
		"inflight": s.client.Inflight(),
		"limit":    s.client.Limit(),
	})
}

func (s *Server) handleCapabilities(c *gin.Context) {
	caps := s.client.Capabilities(c.Request.Context())
	writeJSON(c, http.StatusOK, gin.H{
		"version":          caps.VersionString(),
		"tls_backend":      caps.TLSBackend,
		"features":         caps.Features,
		"http2":            caps.HTTP2,
		"http3":            caps.HTTP3,
		"cipher_selection": caps.CipherSelection,
		"alt_resolver":     caps.AltResolver,
		"resolve":          caps.Resolve,
		"tcp_fastopen":     caps.TCPFastOpen,
		"keepalive_count":  caps.KeepaliveCount,
	})
}

// handleFetch answers with the response envelope, or relays the reply as it
// arrives when the document sets stream.
func (s *Server) handleFetch(c *gin.Context) {
	req, ok := decodeDocument(c)
	if !ok {
		return
	}
	if req.Stream {
		s.streamFetch(c, req)
		return
	}

	resp, err := s.client.Do(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resp.Envelope())
}

func (s *Server) handleStream(c *gin.Context) {
	req, ok := decodeDocument(c)
	if !ok {
		return
	}
	req.Stream = true
	s.streamFetch(c, req)
}

func decodeDocument(c *gin.Context) (*request.Request, bool) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentSize+1))
	if err != nil {
		writeError(c, fetcherr.Wrap(fetcherr.KindConstruction, err, "failed to read request document"))
		return nil, false
	}
	if len(data) > maxDocumentSize {
		writeError(c, fetcherr.New(fetcherr.KindConstruction, "request document exceeds %d bytes", maxDocumentSize))
		return nil, false
	}

	var doc request.Document
	if err = json.Unmarshal(data, &doc); err != nil {
		writeError(c, fetcherr.Wrap(fetcherr.KindConstruction, err, "invalid request document"))
		return nil, false
	}
	req, err := doc.Request()
	if err != nil {
		writeError(c, fetcherr.Wrap(fetcherr.KindConstruction, err, ""))
		return nil, false
	}
	return req, true
}

// streamFetch relays the upstream status, headers and body as they arrive.
// Failures after the head has been written can only end the response early.
func (s *Server) streamFetch(c *gin.Context, req *request.Request) {
	resp, err := s.client.Stream(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	defer resp.Body.Close()

	header := c.Writer.Header()
	for name, values := range resp.Header {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := hopHeaders[canonical]; skip {
			continue
		}
		if canonical == "Content-Encoding" && resp.Decoded {
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	header.Set("X-Curl2-Url", resp.URL)
	c.Status(resp.Status)
	c.Writer.WriteHeaderNow()

	if err = copyFlushing(c.Writer, resp.Body); err != nil && !fetcherr.IsAborted(err) {
		log.WithRequest(req.Method, resp.URL).WithError(err).Warn("stream ended early")
	}
}

func copyFlushing(w gin.ResponseWriter, r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, errWrite := w.Write(buf[:n]); errWrite != nil {
				return errWrite
			}
			w.Flush()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// authMiddleware requires one of the configured API keys as a bearer token or
// X-Api-Key header. With no keys configured every request passes.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := s.apiKeys.Load()
		if keys == nil || len(*keys) == 0 {
			c.Next()
			return
		}

		provided := credential(c.Request, "X-Api-Key")
		if provided == "" {
			abortJSON(c, http.StatusUnauthorized, "missing API key")
			return
		}
		for _, key := range *keys {
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
				c.Next()
				return
			}
		}
		abortJSON(c, http.StatusUnauthorized, "invalid API key")
	}
}

// credential returns the bearer token, or the fallback header when no
// Authorization header was sent.
func credential(r *http.Request, fallback string) string {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return auth
	}
	return strings.TrimSpace(r.Header.Get(fallback))
}

func abortJSON(c *gin.Context, status int, message string) {
	writeJSON(c, status, gin.H{"error": gin.H{"kind": "unauthorized", "message": message}})
	c.Abort()
}

// writeError answers with the status mapped from the error kind.
func writeError(c *gin.Context, err error) {
	kind := fetcherr.KindOf(err)
	body := gin.H{"kind": kind.String(), "message": err.Error()}
	var fe *fetcherr.Error
	if errors.As(err, &fe) && kind == fetcherr.KindTransport {
		body["exit_code"] = fe.ExitCode
	}
	_ = c.Error(err)
	writeJSON(c, kind.HTTPStatus(), gin.H{"error": body})
}

func writeJSON(c *gin.Context, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/json; charset=utf-8", data)
}
