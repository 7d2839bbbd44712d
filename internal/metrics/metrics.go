// Package metrics exposes Prometheus instrumentation for walletd.
package metrics

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletd"

var (
	// TransactionsTotal counts ledger transactions by type and status.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Total ledger transactions applied, by type and status.",
	}, []string{"type", "status"})

	// TransactionAmount observes transaction amounts in coins (absolute value).
	TransactionAmount = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transaction_amount_coins",
		Help:      "Distribution of transaction amounts in coins.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"type"})

	// EscrowOpsTotal counts escrow operations by op and status.
	EscrowOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_ops_total",
		Help:      "Total escrow lock/release operations, by op and status.",
	}, []string{"op", "status"})

	// PaymentCreditsTotal counts payment credit attempts by result
	// (credited, duplicate, rejected, error).
	PaymentCreditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_credits_total",
		Help:      "Total payment credit attempts, by result.",
	}, []string{"result"})

	// LowBalanceAlertsTotal counts low-balance alerts emitted.
	LowBalanceAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "low_balance_alerts_total",
		Help:      "Total low balance alerts emitted after debits.",
	})

	// AutoTopUpTriggersTotal counts auto top-up checkout sessions initiated.
	AutoTopUpTriggersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auto_topup_triggers_total",
		Help:      "Total auto top-up flows triggered by the balance policy.",
	})

	// WebhookDeliveriesTotal counts outbound webhook deliveries by status.
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Total outbound webhook delivery attempts, by status.",
	}, []string{"status"})

	// ReconciliationMismatches counts drift found between cached balances
	// and the transaction log.
	ReconciliationMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_mismatches_total",
		Help:      "Total balance mismatches detected by reconciliation runs.",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests, by method, path and status code.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds, by method and path.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// DBConnectionsOpen tracks open database connections.
	DBConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_open",
		Help:      "Currently open database connections.",
	})

	// WSClientsConnected tracks connected realtime clients.
	WSClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_clients_connected",
		Help:      "Currently connected realtime feed clients.",
	})
)

// DBStatser is the subset of *sql.DB the stats poller needs.
type DBStatser interface {
	Stats() sql.DBStats
}

// PollDBStats keeps DBConnectionsOpen current from the pool's stats
// until ctx is cancelled.
func PollDBStats(ctx context.Context, db DBStatser, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		DBConnectionsOpen.Set(float64(db.Stats().OpenConnections))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Middleware records request counts and latency for every route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
