package api

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	log "github.com/Aslarex/go-curl2/internal/logging"
	"github.com/gin-gonic/gin"
)

// heartbeat fires onTimeout once when beat is not called within timeout.
type heartbeat struct {
	timeout   time.Duration
	onTimeout func()
	beats     chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

func newHeartbeat(timeout time.Duration, onTimeout func()) *heartbeat {
	return &heartbeat{
		timeout:   timeout,
		onTimeout: onTimeout,
		beats:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// beat never blocks; a pending beat already resets the timer.
func (h *heartbeat) beat() {
	select {
	case h.beats <- struct{}{}:
	default:
	}
}

func (h *heartbeat) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *heartbeat) watch() {
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			log.Warnf("no keep-alive heartbeat for %s, shutting down", h.timeout)
			h.onTimeout()
			return
		case <-h.beats:
			timer.Reset(h.timeout)
		case <-h.done:
			return
		}
	}
}

// enableKeepAlive registers /keep-alive for a supervising process. When its
// pings stop for timeout, onTimeout runs.
func (s *Server) enableKeepAlive(timeout time.Duration, onTimeout func()) {
	if timeout <= 0 || onTimeout == nil {
		return
	}
	s.keepAlive = newHeartbeat(timeout, onTimeout)
	s.engine.GET("/keep-alive", s.handleKeepAlive)
	go s.keepAlive.watch()
}

func (s *Server) handleKeepAlive(c *gin.Context) {
	if s.localPassword != "" {
		provided := credential(c.Request, "X-Local-Password")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.localPassword)) != 1 {
			abortJSON(c, http.StatusUnauthorized, "invalid password")
			return
		}
	}
	s.keepAlive.beat()
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}
