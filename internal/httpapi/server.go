// Package httpapi exposes the simulation engines over HTTP, grounded on
// the teacher's proxy.Start: a gin server plus a gorilla/websocket
// manager, adapted from proxying Ethereum JSON-RPC to serving
// POST /simulate, GET /health, and a phase-streaming GET /ws.
package httpapi

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/airchains-network/tx-simulator/internal/engine"
	"github.com/airchains-network/tx-simulator/internal/types"
)

// Server wires both engines into one HTTP surface.
type Server struct {
	engineA   *engine.EngineA
	engineB   *engine.EngineB
	wsManager *wsManager
	log       *logrus.Logger
	startedAt time.Time
}

// NewServer builds the gin router. Either engine may be nil if its
// backend was not configured; /simulate then 503s for that kind.
func NewServer(engineA *engine.EngineA, engineB *engine.EngineB, log *logrus.Logger) *Server {
	s := &Server{
		engineA:   engineA,
		engineB:   engineB,
		wsManager: newWSManager(log),
		log:       log,
		startedAt: time.Now(),
	}
	go s.wsManager.run()
	return s
}

// Router builds the gin.Engine; split out from Run so tests can exercise
// routes with httptest without binding a real listener.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(p gin.LogFormatterParams) string {
			return fmt.Sprintf("[HTTP] %s %s %s %d\n", p.TimeStamp.Format(time.RFC3339), p.Method, p.Path, p.StatusCode)
		},
	}))
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.POST("/simulate", s.handleSimulate)
	r.GET("/ws", func(c *gin.Context) { s.wsManager.handle(c.Writer, c.Request) })
	return r
}

// Run starts the HTTP server on addr.
func (s *Server) Run(addr string) error {
	s.log.Infof("starting HTTP server on %s", addr)
	return s.Router().Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
		"accountModel":  s.engineA != nil,
		"runtimeModule": s.engineB != nil,
	})
}

func (s *Server) handleSimulate(c *gin.Context) {
	var req simulateRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	reporter := s.wsManager.reporterFor(req.RequestID)
	ctx := engine.WithPhaseReporter(c.Request.Context(), reporter)

	switch strings.ToLower(req.Kind) {
	case "account-model":
		s.simulateAccountModel(ctx, c, req)
	case "runtime-module":
		s.simulateRuntimeModule(ctx, c, req)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be 'account-model' or 'runtime-module'"})
	}
}

func (s *Server) simulateAccountModel(ctx context.Context, c *gin.Context, req simulateRequest) {
	if s.engineA == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account-model backend not configured"})
		return
	}
	data, err := decodeHexData(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid data: " + err.Error()})
		return
	}
	domainReq := types.RequestA{
		Sender:      types.Address(req.Sender),
		To:          types.Address(req.To),
		Data:        data,
		Value:       parseBigOrZero(req.Value),
		TrackTokens: toAddressSlice(req.TrackTokens),
		RequestID:   req.RequestID,
	}
	if req.GasLimit != "" {
		domainReq.GasLimit = parseBigOrZero(req.GasLimit)
	}

	resp, err := s.engineA.Simulate(ctx, domainReq)
	s.writeSimulateResult(c, req.RequestID, resp, err)
}

func (s *Server) simulateRuntimeModule(ctx context.Context, c *gin.Context, req simulateRequest) {
	if s.engineB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runtime-module backend not configured"})
		return
	}
	domainReq := types.RequestB{
		Sender:      types.Address(req.Sender),
		RawHex:      req.RawHex,
		TrackAssets: req.TrackAssets,
		RequestID:   req.RequestID,
	}
	if req.Call != nil {
		call := req.Call.toDomain()
		domainReq.Call = &call
	}

	resp, err := s.engineB.Simulate(ctx, domainReq)
	s.writeSimulateResult(c, req.RequestID, resp, err)
}

// writeSimulateResult maps the engine's outcome to a status code per §6:
// a fatal restore failure is a 500, a decoded business error (success:
// false) is a 422, and a clean simulation is a 200.
func (s *Server) writeSimulateResult(c *gin.Context, requestID string, resp types.SimulationResponse, err error) {
	if err != nil {
		var fatal *engine.FatalRestoreError
		if errors.As(err, &fatal) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fatal.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !resp.Success {
		c.JSON(http.StatusUnprocessableEntity, toResponseJSON(requestID, resp))
		return
	}
	c.JSON(http.StatusOK, toResponseJSON(requestID, resp))
}

func decodeHexData(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func toAddressSlice(in []string) []types.Address {
	out := make([]types.Address, len(in))
	for i, s := range in {
		out[i] = types.Address(s)
	}
	return out
}
