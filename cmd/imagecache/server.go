package main

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/cpu"
	"go.uber.org/zap"

	"github.com/prepdash/imagecache"
	"github.com/prepdash/imagecache/extract"
)

// server exposes a cache over HTTP.
type server struct {
	cache    *imagecache.Cache
	gatherer prom.Gatherer
	match    extract.Matcher
	logger   *zap.Logger
	validate *validator.Validate
	started  time.Time
}

func newServer(cache *imagecache.Cache, gatherer prom.Gatherer, match extract.Matcher, log *zap.Logger) *server {
	return &server{
		cache:    cache,
		gatherer: gatherer,
		match:    match,
		logger:   log,
		validate: validator.New(),
		started:  time.Now(),
	}
}

func (s *server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests)

	router.GET("/image", s.handleImage)
	router.POST("/preload", s.handlePreload)

	debug := router.Group("/debug")
	debug.GET("/entries", s.handleEntries)
	debug.DELETE("/entries", s.handleRemove)
	debug.GET("/stats", s.handleStats)
	debug.POST("/clear", s.handleClear)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	router.NoRoute(notFoundHandler)

	return router
}

func (s *server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// handleImage serves cached bytes, or redirects to the source when the
// image could not be fetched.
func (s *server) handleImage(c *gin.Context) {
	u := c.Query("url")
	if u == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": http.StatusBadRequest, "error": "Missing url parameter."})
		return
	}

	cached := s.cache.Has(u)
	h, err := s.cache.Resolve(c.Request.Context(), u)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": http.StatusServiceUnavailable, "error": err.Error()})
		return
	}

	data, contentType, ok := s.cache.Open(h)
	if !ok {
		c.Header("X-Cache", "Miss")
		c.Redirect(http.StatusFound, u)
		return
	}

	if cached {
		c.Header("X-Cache", "Hit")
	} else {
		c.Header("X-Cache", "Miss")
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, contentType, data)
}

// preloadRequest is the body of POST /preload.
type preloadRequest struct {
	Content string   `json:"content" validate:"required_without=URLs"`
	URLs    []string `json:"urls" validate:"omitempty,dive,required,url"`
}

func (s *server) handlePreload(c *gin.Context) {
	var req preloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": http.StatusBadRequest, "error": "Malformed request body."})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{"status": http.StatusBadRequest, "error": err.Error()})
			return
		}
		var msgs []string
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("Field '%s' failed '%s'.", fe.Field(), fe.Tag()))
		}
		c.JSON(http.StatusBadRequest, gin.H{"status": http.StatusBadRequest, "error": msgs})
		return
	}

	urls := append(req.URLs, extract.ImageURLs(req.Content, s.match)...)
	s.cache.PreloadAll(c.Request.Context(), urls)

	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "data": gin.H{
		"urls":  urls,
		"stats": newStatsJSON(s.cache.Stats()),
	}})
}

// entryJSON is the wire form of imagecache.EntryInfo.
type entryJSON struct {
	URL         string    `json:"url"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	AgeMS       int64     `json:"age_ms"`
}

func (s *server) handleEntries(c *gin.Context) {
	entries := s.cache.Entries()
	out := make([]entryJSON, len(entries))
	for i, e := range entries {
		out[i] = entryJSON{
			URL:         e.URL,
			Size:        e.Size,
			ContentType: e.ContentType,
			CreatedAt:   e.CreatedAt,
			AgeMS:       e.Age.Milliseconds(),
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "data": out})
}

func (s *server) handleRemove(c *gin.Context) {
	u := c.Query("url")
	if u == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": http.StatusBadRequest, "error": "Missing url parameter."})
		return
	}
	if !s.cache.Remove(u) {
		c.JSON(http.StatusNotFound, gin.H{"status": http.StatusNotFound, "error": "Image not cached."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "data": "Image removed."})
}

func (s *server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "data": gin.H{
		"cache": newStatsJSON(s.cache.Stats()),
		"process": gin.H{
			"cpu_usage":     cpuUsage(),
			"go_routines":   runtime.NumGoroutine(),
			"system_uptime": time.Since(s.started).String(),
		},
	}})
}

func (s *server) handleClear(c *gin.Context) {
	s.cache.Clear()
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "data": "Cache cleared."})
}

func notFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"status": http.StatusNotFound, "error": "Route not found."})
}

// cpuUsage returns the system CPU usage in percent, or 0 if unavailable.
func cpuUsage() float64 {
	percent, err := cpu.Percent(0, false)
	if err != nil || len(percent) == 0 {
		return 0
	}
	return math.Round(percent[0]*100) / 100
}
