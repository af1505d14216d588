// Package middleware provides gzip response compression. Curve and export
// payloads carry full ability grids per item and compress well.
package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression.
type CompressionConfig struct {
	MinSize          int      // Minimum response size to compress (bytes)
	CompressionLevel int      // Gzip compression level (1-9)
	ContentTypes     []string // Content types worth compressing
}

// DefaultCompressionConfig returns the default compression configuration.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:          1024,
		CompressionLevel: 6,
		ContentTypes: []string{
			"application/json",
			"text/csv",
			"text/plain",
		},
	}
}

// CompressionMiddleware provides gzip compression for HTTP responses.
type CompressionMiddleware struct {
	config CompressionConfig
	stats  *CompressionStats
	pool   sync.Pool
}

// NewCompressionMiddleware creates a compression middleware.
func NewCompressionMiddleware(config CompressionConfig) *CompressionMiddleware {
	cm := &CompressionMiddleware{
		config: config,
		stats:  NewCompressionStats(),
	}
	cm.pool = sync.Pool{
		New: func() interface{} {
			gz, err := gzip.NewWriterLevel(io.Discard, config.CompressionLevel)
			if err != nil {
				gz = gzip.NewWriter(io.Discard)
			}
			return gz
		},
	}
	return cm
}

// Handler returns the gin middleware. Responses below MinSize, responses
// with non-compressible content types, and clients without gzip support
// all pass through untouched.
func (cm *CompressionMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodHead || !cm.clientAcceptsGzip(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		gw := &gzipResponseWriter{ResponseWriter: c.Writer, cm: cm}
		c.Writer = gw

		c.Next()

		gw.finalize()

		written := gw.Size()
		if written < 0 {
			written = 0
		}
		cm.stats.RecordRequest(int64(gw.total), int64(written), gw.compressed)
	}
}

func (cm *CompressionMiddleware) clientAcceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func (cm *CompressionMiddleware) shouldCompress(contentType string) bool {
	for _, ct := range cm.config.ContentTypes {
		if strings.Contains(contentType, ct) {
			return true
		}
	}
	return false
}

func (cm *CompressionMiddleware) getGzipWriter(w io.Writer) *gzip.Writer {
	gz := cm.pool.Get().(*gzip.Writer)
	gz.Reset(w)
	return gz
}

func (cm *CompressionMiddleware) returnGzipWriter(gz *gzip.Writer) {
	gz.Reset(io.Discard)
	cm.pool.Put(gz)
}

// gzipResponseWriter defers the compress-or-not decision until enough body
// bytes have arrived. Gin holds back the header write until the first byte
// reaches the underlying writer, so headers can still change at that point.
type gzipResponseWriter struct {
	gin.ResponseWriter
	cm          *CompressionMiddleware
	gz          *gzip.Writer
	buf         []byte
	total       int
	compressed  bool
	passthrough bool
}

func (g *gzipResponseWriter) Write(data []byte) (int, error) {
	g.total += len(data)

	if g.passthrough {
		return g.ResponseWriter.Write(data)
	}
	if g.gz != nil {
		return g.gz.Write(data)
	}

	if !g.cm.shouldCompress(g.Header().Get("Content-Type")) {
		g.passthrough = true
		if err := g.flushPlain(); err != nil {
			return 0, err
		}
		return g.ResponseWriter.Write(data)
	}

	if g.total < g.cm.config.MinSize {
		g.buf = append(g.buf, data...)
		return len(data), nil
	}

	g.Header().Set("Content-Encoding", "gzip")
	g.Header().Del("Content-Length")
	g.gz = g.cm.getGzipWriter(g.ResponseWriter)
	g.compressed = true

	if len(g.buf) > 0 {
		if _, err := g.gz.Write(g.buf); err != nil {
			return 0, err
		}
		g.buf = nil
	}
	return g.gz.Write(data)
}

func (g *gzipResponseWriter) WriteString(s string) (int, error) {
	return g.Write([]byte(s))
}

// Flush forces the response out. An undecided buffer switches to
// passthrough: a streaming handler wants bytes on the wire now.
func (g *gzipResponseWriter) Flush() {
	if g.gz != nil {
		_ = g.gz.Flush()
	} else if !g.passthrough {
		g.passthrough = true
		_ = g.flushPlain()
	}
	g.ResponseWriter.Flush()
}

func (g *gzipResponseWriter) flushPlain() error {
	if len(g.buf) == 0 {
		return nil
	}
	_, err := g.ResponseWriter.Write(g.buf)
	g.buf = nil
	return err
}

// finalize completes the response after the handler chain returns: close
// the gzip stream, or write out a buffer that never crossed the threshold.
func (g *gzipResponseWriter) finalize() {
	if g.gz != nil {
		_ = g.gz.Close()
		g.cm.returnGzipWriter(g.gz)
		g.gz = nil
		return
	}
	_ = g.flushPlain()
}

// CompressionStats tracks compression statistics.
type CompressionStats struct {
	TotalRequests      int64
	CompressedRequests int64
	TotalBytes         int64
	CompressedBytes    int64
	mutex              sync.RWMutex
}

// NewCompressionStats creates new compression statistics.
func NewCompressionStats() *CompressionStats {
	return &CompressionStats{}
}

// RecordRequest records one response's sizes.
func (cs *CompressionStats) RecordRequest(originalSize, writtenSize int64, compressed bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.TotalRequests++
	cs.TotalBytes += originalSize

	if compressed {
		cs.CompressedRequests++
		cs.CompressedBytes += writtenSize
	}
}

// GetStats returns current compression statistics.
func (cs *CompressionStats) GetStats() map[string]interface{} {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	compressionRatio := float64(0)
	if cs.TotalBytes > 0 && cs.CompressedBytes > 0 {
		compressionRatio = float64(cs.CompressedBytes) / float64(cs.TotalBytes)
	}

	return map[string]interface{}{
		"total_requests":      cs.TotalRequests,
		"compressed_requests": cs.CompressedRequests,
		"total_bytes":         cs.TotalBytes,
		"compressed_bytes":    cs.CompressedBytes,
		"compression_ratio":   compressionRatio,
	}
}

// GetStats returns compression statistics for the metrics endpoint.
func (cm *CompressionMiddleware) GetStats() map[string]interface{} {
	return cm.stats.GetStats()
}
