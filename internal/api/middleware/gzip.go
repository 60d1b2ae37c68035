package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// GzipConfig selects which responses are compressed.
type GzipConfig struct {
	Level int
	// ExcludedPaths are path prefixes served uncompressed, such as streams
	ExcludedPaths []string
}

// DefaultGzipConfig skips the streaming endpoints.
func DefaultGzipConfig() GzipConfig {
	return GzipConfig{
		Level:         gzip.DefaultCompression,
		ExcludedPaths: []string{"/events", "/provider", "/metrics"},
	}
}

type gzipWriter struct {
	gin.ResponseWriter
	writer  *gzip.Writer
	written bool
}

func (g *gzipWriter) Write(data []byte) (int, error) {
	g.written = true
	return g.writer.Write(data)
}

func (g *gzipWriter) WriteString(s string) (int, error) {
	return g.Write([]byte(s))
}

func (g *gzipWriter) WriteHeader(code int) {
	g.Header().Del("Content-Length")
	g.ResponseWriter.WriteHeader(code)
}

// Gzip compresses responses for clients that accept it.
func Gzip(cfg GzipConfig) gin.HandlerFunc {
	pool := sync.Pool{
		New: func() any {
			w, err := gzip.NewWriterLevel(nil, cfg.Level)
			if err != nil {
				w = gzip.NewWriter(nil)
			}
			return w
		},
	}

	return func(c *gin.Context) {
		if !shouldCompress(c.Request, cfg.ExcludedPaths) {
			c.Next()
			return
		}

		gz := pool.Get().(*gzip.Writer)
		gz.Reset(c.Writer)
		defer pool.Put(gz)

		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		gw := &gzipWriter{ResponseWriter: c.Writer, writer: gz}
		c.Writer = gw
		defer func() {
			// Bodiless responses must not carry a gzip trailer
			if !gw.written {
				gw.Header().Del("Content-Encoding")
				gz.Reset(nil)
				return
			}
			_ = gz.Close()
		}()

		c.Next()
	}
}

func shouldCompress(req *http.Request, excluded []string) bool {
	if !strings.Contains(req.Header.Get("Accept-Encoding"), "gzip") {
		return false
	}
	if req.Header.Get("Upgrade") != "" || req.Method == http.MethodHead {
		return false
	}
	for _, prefix := range excluded {
		if strings.HasPrefix(req.URL.Path, prefix) {
			return false
		}
	}
	return true
}
