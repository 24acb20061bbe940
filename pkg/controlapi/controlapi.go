// Package controlapi implements sentrytapd's control-plane HTTP server:
// interface status, a live flow listing filterable via pkg/flowfilter,
// and signal endpoints that drive the instance supervisor (pkg/agent).
// It is grounded on the teacher's goprobe API server (gin router,
// middleware stack, unix-socket listening, graceful shutdown), restyled
// around live in-memory flow state instead of a stored database.
package controlapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginpprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/sentrytap/sentrytap/pkg/agent"
	"github.com/sentrytap/sentrytap/pkg/capture"
	"github.com/sentrytap/sentrytap/pkg/capture/capturetypes"
	"github.com/sentrytap/sentrytap/pkg/config"
	"github.com/sentrytap/sentrytap/pkg/flowfilter"
	"github.com/sentrytap/sentrytap/pkg/flowmap"
	"github.com/sentrytap/sentrytap/pkg/flowrecord"
	"github.com/sentrytap/sentrytap/pkg/netaddr"
)

const (
	// StatusRoute reports per-interface capture statistics.
	StatusRoute = "/status"
	// FlowsRoute lists currently tracked flows, optionally filtered.
	FlowsRoute = "/flows"
	// ConfigRoute reports the interface configuration currently applied.
	ConfigRoute = "/config"
	// SignalRoute triggers one of the supervisor's internal signals.
	SignalRoute = "/signal/:name"
)

const headerTimeout = 30 * time.Second

// Server is sentrytapd's control-plane HTTP server.
type Server struct {
	addr           string
	unixSocketFile string

	captureManager *capture.Manager
	flows          *flowmap.Map
	sup            *agent.Agent

	srv    *http.Server
	router *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithCORS enables permissive CORS, used when sentryctl or a browser-based
// dashboard runs on a different origin.
func WithCORS() Option {
	return func(s *Server) {
		s.router.Use(cors.Default())
	}
}

// WithPprof mounts net/http/pprof's handlers under /debug/pprof.
func WithPprof() Option {
	return func(s *Server) {
		ginpprof.Register(s.router)
	}
}

// New constructs a Server bound to addr (or, with a "unix:" prefix, a unix
// socket path), serving out of flows/captureManager/sup.
func New(addr string, flows *flowmap.Map, captureManager *capture.Manager, sup *agent.Agent, opts ...Option) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("sentrytapd"))
	router.Use(traceIDMiddleware(), requestLoggingMiddleware())

	s := &Server{
		addr:           addr,
		unixSocketFile: netaddr.ExtractUnixSocket(addr),
		captureManager: captureManager,
		flows:          flows,
		sup:            sup,
		router:         router,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET(StatusRoute, s.getStatus)
	s.router.GET(FlowsRoute, s.getFlows)
	s.router.GET(ConfigRoute, s.getConfig)
	s.router.POST(SignalRoute, s.postSignal)
}

// Serve starts the control API server. It blocks until Shutdown is called
// or a fatal listener error occurs.
func (s *Server) Serve() error {
	s.srv = &http.Server{
		Handler:           s.router.Handler(),
		ReadHeaderTimeout: headerTimeout,
	}

	if s.unixSocketFile != "" {
		listener, err := net.Listen("unix", s.unixSocketFile)
		if err != nil {
			return err
		}
		return s.srv.Serve(listener)
	}

	s.srv.Addr = s.addr
	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the control API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// statusResponse mirrors the teacher's status payload shape, generalized
// from a single DB writeout timestamp to the supervisor's capture set.
type statusResponse struct {
	StartedAt time.Time                   `json:"started_at"`
	Statuses  capturetypes.InterfaceStats `json:"statuses"`
}

func (s *Server) getStatus(c *gin.Context) {
	ifaces := c.QueryArray("iface")
	c.JSON(http.StatusOK, statusResponse{
		StartedAt: s.captureManager.StartedAt(),
		Statuses:  s.captureManager.Status(c.Request.Context(), ifaces...),
	})
}

type configResponse struct {
	Ifaces config.Ifaces `json:"ifaces"`
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, configResponse{
		Ifaces: s.captureManager.Config(c.Request.Context()),
	})
}

// FlowSnapshot is the JSON-serializable view of a flowrecord.Record,
// exported since Record itself holds atomic counters and is not safe to
// marshal directly.
type FlowSnapshot struct {
	Iface       string `json:"iface"`
	IPProto     uint8  `json:"ip_proto"`
	LowerIP     string `json:"lower_ip"`
	UpperIP     string `json:"upper_ip"`
	LowerPort   uint16 `json:"lower_port"`
	UpperPort   uint16 `json:"upper_port"`

	Protocol    string `json:"protocol,omitempty"`
	Application string `json:"application,omitempty"`
	Host        string `json:"host,omitempty"`

	BytesLowerToUpper   uint64 `json:"bytes_lower_to_upper"`
	BytesUpperToLower   uint64 `json:"bytes_upper_to_lower"`
	PacketsLowerToUpper uint64 `json:"packets_lower_to_upper"`
	PacketsUpperToLower uint64 `json:"packets_upper_to_lower"`

	FirstSeenMs int64 `json:"first_seen_ms"`
	LastSeenMs  int64 `json:"last_seen_ms"`

	DetectionComplete bool `json:"detection_complete"`
}

func toSnapshot(flow *flowrecord.Record) FlowSnapshot {
	id := flow.Identity
	return FlowSnapshot{
		Iface:               id.IfaceName,
		IPProto:             id.IPProto,
		LowerIP:             id.LowerIP.String(),
		UpperIP:             id.UpperIP.String(),
		LowerPort:           id.LowerPort,
		UpperPort:           id.UpperPort,
		Protocol:            flow.ProtocolName,
		Application:         flow.ApplicationName,
		Host:                flow.DNSHostName,
		BytesLowerToUpper:   flow.Counters.BytesLowerToUpper.Load(),
		BytesUpperToLower:   flow.Counters.BytesUpperToLower.Load(),
		PacketsLowerToUpper: flow.Counters.PacketsLowerToUpper.Load(),
		PacketsUpperToLower: flow.Counters.PacketsUpperToLower.Load(),
		FirstSeenMs:         flow.FirstSeenMs.Load(),
		LastSeenMs:          flow.LastSeenMs.Load(),
		DetectionComplete:   flow.Flags.DetectionComplete(),
	}
}

type flowsResponse struct {
	Flows []FlowSnapshot `json:"flows"`
}

// getFlows lists the flows currently tracked in the flow map, optionally
// narrowed by a flowfilter expression passed via ?filter=.
func (s *Server) getFlows(c *gin.Context) {
	var expr flowfilter.Expr
	if raw := c.Query("filter"); raw != "" {
		parsed, err := flowfilter.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		expr = parsed
	}

	out := make([]FlowSnapshot, 0)
	for i := 0; i < s.flows.NumBuckets(); i++ {
		b := s.flows.AcquireBucket(i)
		b.Range(func(_ flowmap.Digest, flow *flowrecord.Record) {
			if expr != nil && !expr.Eval(flow) {
				return
			}
			out = append(out, toSnapshot(flow))
		})
		s.flows.ReleaseBucket(i)
	}

	c.JSON(http.StatusOK, flowsResponse{Flows: out})
}

func (s *Server) postSignal(c *gin.Context) {
	name := c.Param("name")
	sig, ok := parseSignalName(name)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown signal: " + name})
		return
	}
	s.sup.Signal(sig)
	c.JSON(http.StatusAccepted, gin.H{"signal": name})
}

func parseSignalName(name string) (agent.Signal, bool) {
	switch name {
	case "reload":
		return agent.SignalReload, true
	case "update":
		return agent.SignalUpdate, true
	case "update_api":
		return agent.SignalUpdateAPI, true
	case "netlink_io":
		return agent.SignalNetlinkIO, true
	case "terminate":
		return agent.SignalTerminate, true
	default:
		return 0, false
	}
}
