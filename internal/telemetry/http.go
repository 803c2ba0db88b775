package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goldcore/internal/decision"
)

// lastDecision holds the most recent pipeline verdict so /why-no-trade
// can explain a quiet session without the caller threading it through
// every layer by hand.
var (
	lastDecisionMu sync.RWMutex
	lastDecision   *decision.Output
)

// RecordLastDecision stashes out for later inspection via /why-no-trade.
func RecordLastDecision(out decision.Output) {
	lastDecisionMu.Lock()
	defer lastDecisionMu.Unlock()
	cp := out
	lastDecision = &cp
}

// HealthStatus is injected by the caller so /healthz can report broker
// and persistence health without this package importing either.
type HealthStatus struct {
	BrokerConnected    bool
	LastPersistWriteOK bool
	LastBarTime        time.Time
}

// HealthFunc returns the current health snapshot at request time.
type HealthFunc func() HealthStatus

// NewOpsServer builds the minimal gin surface the headless CLI exposes:
// /healthz, /metrics, and /why-no-trade.
func NewOpsServer(healthFn HealthFunc) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		status := healthFn()
		code := http.StatusOK
		if !status.BrokerConnected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"broker_connected":      status.BrokerConnected,
			"last_persist_write_ok": status.LastPersistWriteOK,
			"last_bar_time":         status.LastBarTime,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})))

	r.GET("/why-no-trade", func(c *gin.Context) {
		lastDecisionMu.RLock()
		out := lastDecision
		lastDecisionMu.RUnlock()

		if out == nil {
			c.JSON(http.StatusOK, gin.H{"message": "no decision evaluated yet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"decision":  out.Decision,
			"stage":     out.Stage,
			"fail_code": out.FailCode,
			"reason":    out.Reason,
			"required":  out.Required,
			"actual":    out.Actual,
			"timestamp": out.DecisionTimestamp,
		})
	})

	return r
}
