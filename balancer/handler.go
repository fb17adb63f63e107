package balancer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mantrid-go/mantridproxy/action"
	"github.com/mantrid-go/mantridproxy/circuit"
	"github.com/mantrid-go/mantridproxy/logging"
	"github.com/mantrid-go/mantridproxy/metrics"
	"github.com/mantrid-go/mantridproxy/ratelimit"
	"github.com/mantrid-go/mantridproxy/routing"
	"github.com/mantrid-go/mantridproxy/statsocket"
)

// Handler implements the per-connection pipeline described in spec.md
// §4.7: parse request line + headers, rate-limit, resolve, dispatch,
// record stats.
type Handler struct {
	Table             *routing.Table
	Stats             *StatsRegistry
	RateLimiter       *ratelimit.Registry
	Breakers          *circuit.Registry
	Metrics           *metrics.Metrics
	ActionConfig      action.Config
	RPSHeaders        []string
	EnforceRateLimits bool
	Internal          bool
}

// HandleConnection runs one connection through the full pipeline. It never
// panics out to the caller: any internal error is converted to a best
// effort 500 response.
func (h *Handler) HandleConnection(ctx context.Context, conn net.Conn) {
	sc := statsocket.Wrap(conn)
	defer sc.Close()

	matchedHost := "unknown"
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("recovered from panic handling connection")
			writeStatusOnly(sc, 500)
		}
	}()

	reader := bufio.NewReader(sc)
	requestLine, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	tokens := strings.Fields(strings.TrimRight(requestLine, "\r\n"))
	if len(tokens) != 2 && len(tokens) != 3 {
		writeStatusOnly(sc, 400)
		return
	}
	path := tokens[1]

	headers, err := textproto.NewReader(reader).ReadMIMEHeader()
	if err != nil && len(headers) == 0 {
		writeStatusOnly(sc, 400)
		return
	}

	if headers.Get("Transfer-Encoding") != "" {
		writeStatusOnly(sc, 411)
		return
	}

	host := headers.Get("LoadBalanceTo")
	if host == "" {
		host = "unknown"
	}
	headers.Set("Connection", "close")

	if !h.Internal {
		if ip, _, splitErr := net.SplitHostPort(conn.RemoteAddr().String()); splitErr == nil {
			headers.Set("X-Forwarded-For", ip)
		}
		headers.Set("X-Forwarded-Protocol", "")
		headers.Set("X-Forwarded-Proto", "")
	}

	requestID := headers.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
		headers.Set("X-Request-Id", requestID)
	}

	if token := h.rateToken(headers); token != "" {
		if !h.RateLimiter.Allow(token, time.Now()) {
			h.Metrics.LimitedRequests.Inc()
			logging.ForConn(requestID, host, matchedHost).Warn("token exceeded rate limit")
			if h.EnforceRateLimits {
				writeStatusOnly(sc, 420)
				return
			}
		}
	}

	protocol := "http"
	proto := headers.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = headers.Get("X-Forwarded-Protocol")
	}
	if proto == "https" || proto == "ssl" {
		protocol = "https"
	}

	route, matched, ok := h.Table.Resolve(host, protocol)
	if ok {
		matchedHost = matched
	} else if h.Table.IsEmpty() {
		route, matchedHost = routing.Route{Kind: routing.KindNoHosts}, host
	} else {
		route, matchedHost = routing.Route{Kind: routing.KindUnknown}, host
	}

	stats := h.Stats.Get(matchedHost)
	stats.openRequests.Add(1)
	defer func() {
		stats.openRequests.Add(-1)
		stats.completedRequests.Add(1)
		stats.bytesSent.Add(sc.BytesSent())
		stats.bytesReceived.Add(sc.BytesReceived())
		if h.Metrics != nil {
			h.Metrics.OpenRequests.WithLabelValues(matchedHost).Set(float64(stats.openRequests.Load()))
			h.Metrics.CompletedRequests.WithLabelValues(matchedHost).Inc()
			h.Metrics.BytesSent.WithLabelValues(matchedHost).Add(float64(sc.BytesSent()))
			h.Metrics.BytesReceived.WithLabelValues(matchedHost).Add(float64(sc.BytesReceived()))
		}
	}()

	act, err := action.New(route, host, matchedHost, h.Table, h.ActionConfig, h.Breakers)
	if err != nil {
		logging.ForConn(requestID, host, matchedHost).WithError(err).Error("failed to build action")
		writeStatusOnly(sc, 500)
		return
	}

	req := &action.Request{
		Conn:        sc,
		Prefix:      buildPrefix(requestLine, headers, reader),
		Path:        path,
		Headers:     headers,
		Host:        host,
		Protocol:    protocol,
		MatchedHost: matchedHost,
	}

	if err := act.Handle(ctx, req); err != nil {
		logging.ForConn(requestID, host, matchedHost).WithError(err).Warn("action returned an error")
	}
}

// rateToken concatenates the configured header values into the rate-limit
// token. If none of the configured headers are present, rate limiting is
// skipped for this request entirely (matches spec.md §4.7 step 7).
func (h *Handler) rateToken(headers textproto.MIMEHeader) string {
	if len(h.RPSHeaders) == 0 {
		return ""
	}
	var sb strings.Builder
	present := false
	for _, name := range h.RPSHeaders {
		v := headers.Get(name)
		if v != "" {
			present = true
		}
		sb.WriteString(v)
	}
	if !present {
		return ""
	}
	return sb.String()
}

// buildPrefix reconstructs the raw bytes already read from the client:
// request line + serialized headers + any unread buffered bytes, which an
// action forwards verbatim to a backend.
func buildPrefix(requestLine string, headers textproto.MIMEHeader, reader *bufio.Reader) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.TrimRight(requestLine, "\r\n"))
	buf.WriteString("\r\n")
	for name, values := range headers {
		for _, v := range values {
			buf.WriteString(name)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString("\r\n")
		}
	}
	buf.WriteString("\r\n")

	if n := reader.Buffered(); n > 0 {
		if leftover, err := reader.Peek(n); err == nil {
			buf.Write(leftover)
		}
	}
	return buf.Bytes()
}

func writeStatusOnly(conn net.Conn, code int) {
	reason := http.StatusText(code)
	if reason == "" {
		reason = statusReasonFallback(code)
	}
	resp := fmt.Sprintf("HTTP/1.0 %d %s\r\nConnection: close\r\nContent-length: 0\r\n\r\n", code, reason)
	conn.Write([]byte(resp))
}

func statusReasonFallback(code int) string {
	switch code {
	case 420:
		return "Enhance Your Calm"
	case 594:
		return "Backend timeout"
	default:
		return "Error"
	}
}
