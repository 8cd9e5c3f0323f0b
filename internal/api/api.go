// Package api exposes the read-only HTTP surface (component C11): a
// thin consumer of the query layer, never a second write path.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ledgerwatch/namedb/internal/logger"
	"github.com/ledgerwatch/namedb/internal/query"
	"github.com/ledgerwatch/namedb/internal/replay"
)

// Server wires the query and replay layers to HTTP routes.
type Server struct {
	q      *query.Layer
	r      *replay.Replayer
	log    logger.Logger
	limit  rate.Limit
	burst  int
	limits map[string]*rate.Limiter
}

// NewServer constructs a Server rate-limited to limit requests/sec per
// client IP, with the given burst.
func NewServer(q *query.Layer, r *replay.Replayer, log logger.Logger, limit rate.Limit, burst int) *Server {
	return &Server{q: q, r: r, log: log, limit: limit, burst: burst, limits: map[string]*rate.Limiter{}}
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	l, ok := s.limits[ip]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limits[ip] = l
	}
	return l
}

func (s *Server) rateLimit(c *gin.Context) {
	if !s.limiterFor(c.ClientIP()).Allow() {
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}
	c.Next()
}

// Routes registers every route in §4d of the expanded specification.
func (s *Server) Routes(r gin.IRouter) {
	r.Use(s.rateLimit)
	r.GET("/names/:name", s.getName)
	r.GET("/names/:name/history", s.getNameHistory)
	r.GET("/namespaces/:id", s.getNamespace)
	r.GET("/names", s.listNames)
	r.GET("/addresses/:address/names", s.namesOwnedByAddress)
	r.GET("/senders/:sender/names", s.namesBySender)
	r.GET("/hashes/:hash128", s.nameFromHash)
}

func blockParam(c *gin.Context) int64 {
	v, _ := strconv.ParseInt(c.Query("block"), 10, 64)
	return v
}

func (s *Server) getName(c *gin.Context) {
	rec, err := s.q.GetName(c.Param("name"), blockParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) getNameHistory(c *gin.Context) {
	at, _ := strconv.ParseInt(c.Query("at"), 10, 64)
	rec, err := s.q.GetName(c.Param("name"), at)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.Status(http.StatusNotFound)
		return
	}
	fields := map[string]interface{}{
		"name": rec.Name, "block_number": rec.BlockNumber, "op": rec.Op,
	}
	states, err := s.r.RestoreAt(rec.Name, fields, rec.BlockNumber, at)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, states)
}

func (s *Server) getNamespace(c *gin.Context) {
	ns, err := s.q.GetNamespace(c.Param("id"), blockParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ns == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, ns)
}

func (s *Server) listNames(c *gin.Context) {
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	count, _ := strconv.ParseInt(c.DefaultQuery("count", "100"), 10, 64)
	block := blockParam(c)

	var names []string
	var err error
	if ns := c.Query("namespace"); ns != "" {
		names, err = s.q.GetNamesInNamespace(ns, block, offset, count)
	} else {
		names, err = s.q.GetAllNames(block, offset, count)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) namesOwnedByAddress(c *gin.Context) {
	names, err := s.q.GetNamesOwnedByAddress(c.Param("address"), blockParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) namesBySender(c *gin.Context) {
	names, err := s.q.GetNamesBySender(c.Param("sender"), blockParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) nameFromHash(c *gin.Context) {
	rec, err := s.q.GetNameFromNameHash128(c.Param("hash128"), blockParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}
