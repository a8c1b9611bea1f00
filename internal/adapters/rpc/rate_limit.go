package rpc

import (
	"net"
	"net/http"
	"strings"
	"time"
)

func (s *Server) allowRequest(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	if s.limiter.Allow(rpcRateLimitKey(r), time.Now()) {
		return true
	}
	w.Header().Set("Retry-After", "1")
	http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	return false
}

// rpcRateLimitKey buckets callers by token when one is presented and by
// remote IP otherwise.
func rpcRateLimitKey(r *http.Request) string {
	if token := extractRPCToken(r); token != "" {
		return "token:" + token
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}
