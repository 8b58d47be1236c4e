package handlers

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// burstBytes is both the limiter burst and the largest single write pushed
// through it.
const burstBytes = 32 * 1024

// BandwidthManager caps outgoing media bytes for the whole server and splits
// the cap evenly between client IPs. Parallel range requests from one IP
// share a single slice.
type BandwidthManager struct {
	mu      sync.Mutex
	capBps  float64
	clients map[string]*client
}

type client struct {
	limiter *rate.Limiter
	active  int
}

// NewBandwidthManager returns a manager capped at bytesPerSec. Zero means
// unlimited.
func NewBandwidthManager(bytesPerSec float64) *BandwidthManager {
	return &BandwidthManager{capBps: bytesPerSec, clients: make(map[string]*client)}
}

// Limited reports whether a cap is configured.
func (bm *BandwidthManager) Limited() bool { return bm != nil && bm.capBps > 0 }

// Clients is the number of IPs currently holding a share.
func (bm *BandwidthManager) Clients() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.clients)
}

func (bm *BandwidthManager) acquire(ip, what string) *rate.Limiter {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	c := bm.clients[ip]
	if c == nil {
		c = &client{limiter: rate.NewLimiter(rate.Limit(bm.capBps), burstBytes)}
		bm.clients[ip] = c
	}
	c.active++
	log.Printf("stream start    ip=%-15s  active=%-2d  req=%s", ip, c.active, what)
	bm.shareLocked()
	return c.limiter
}

func (bm *BandwidthManager) release(ip, what string) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	c := bm.clients[ip]
	if c == nil {
		return
	}
	c.active--
	log.Printf("stream end      ip=%-15s  active=%-2d  req=%s", ip, c.active, what)
	if c.active <= 0 {
		delete(bm.clients, ip)
	}
	bm.shareLocked()
}

// shareLocked gives every client an equal slice of the cap. bm.mu must be
// held.
func (bm *BandwidthManager) shareLocked() {
	n := len(bm.clients)
	if n == 0 {
		return
	}
	share := bm.capBps / float64(n)
	for ip, c := range bm.clients {
		c.limiter.SetLimit(rate.Limit(share))
		c.limiter.SetBurst(burstBytes)
		log.Printf("rate share      ip=%-15s  clients=%-2d  alloc=%s", ip, n, humanize.SIWithDigits(share*8, 2, "bps"))
	}
}

// Wrap throttles the response body of h. Without a cap h is returned as is.
func (bm *BandwidthManager) Wrap(h http.Handler) http.Handler {
	if !bm.Limited() {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, what := clientIP(r), r.URL.RequestURI()
		lim := bm.acquire(ip, what)
		defer bm.release(ip, what)
		h.ServeHTTP(&throttledWriter{ResponseWriter: w, ctx: r.Context(), lim: lim}, r)
	})
}

type throttledWriter struct {
	http.ResponseWriter
	ctx context.Context
	lim *rate.Limiter
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	var total int
	for len(p) > 0 {
		n := min(len(p), burstBytes)
		if err := tw.lim.WaitN(tw.ctx, n); err != nil {
			return total, err
		}
		written, err := tw.ResponseWriter.Write(p[:n])
		total += written
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}

// ReadFrom keeps io.Copy and http.ServeContent going through Write instead
// of the sendfile fast path.
func (tw *throttledWriter) ReadFrom(src io.Reader) (int64, error) {
	return io.CopyBuffer(writerOnly{tw}, src, make([]byte, burstBytes))
}

func (tw *throttledWriter) Unwrap() http.ResponseWriter { return tw.ResponseWriter }

// Flush lets streamed transcoder output reach the client as it is produced.
func (tw *throttledWriter) Flush() {
	http.NewResponseController(tw.ResponseWriter).Flush()
}

type writerOnly struct{ io.Writer }

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
