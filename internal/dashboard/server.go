// Package dashboard exposes the Gin-powered HTTP surface: billing period
// state, tariff, fetch diagnostics, the plain-text report, host resources
// and Prometheus metrics.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	appconfig "wattson/config"
	"wattson/internal/metrics"
	"wattson/logger"
	"wattson/models"
)

// Ledger is the read surface the dashboard renders.
type Ledger interface {
	CurrentPeriod() models.BillingPeriod
	CurrentTotals() models.PeriodTotals
	Tariff() models.TariffParams
	TotalsForOffset(offset int) (models.PeriodTotals, models.BillingPeriod, bool)
}

// Diagnostics serves the last-fetch record and the operator report.
type Diagnostics interface {
	Load() (models.FetchStatus, error)
	Report(tariff models.TariffParams, now time.Time) string
}

// Server hosts the monitoring and reporting endpoints.
type Server struct {
	cfg        appconfig.DashboardConfig
	ledger     Ledger
	diag       Diagnostics
	log        *logger.Log
	httpServer *http.Server
	sampler    *resourceSampler
	version    string
}

// NewServer constructs a dashboard server when the dashboard feature is
// enabled. When the dashboard is disabled the returned server will be nil.
func NewServer(cfg *appconfig.Config, ledger Ledger, diag Diagnostics) *Server {
	if !cfg.Dashboard.Enabled {
		return nil
	}

	dcfg := cfg.Dashboard
	dcfg.Address = normalizeAddress(dcfg.Address)

	return &Server{
		cfg:     dcfg,
		ledger:  ledger,
		diag:    diag,
		log:     logger.GetLogger(),
		sampler: newResourceSampler(cfg.Store.Dir, logger.GetLogger()),
		version: cfg.Wattson.Version,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.sampler.start(ctx)
	defer s.sampler.stop()

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.buildRouter(),
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "wattson", "version": s.version})
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.GET("/period", s.handlePeriod)
	api.GET("/totals", s.handleTotals)
	api.GET("/tariff", s.handleTariff)
	api.GET("/fetch-status", s.handleFetchStatus)
	api.GET("/report", s.handleReport)
	api.GET("/resources", s.handleResources)

	return router
}

func (s *Server) handlePeriod(c *gin.Context) {
	period := s.ledger.CurrentPeriod()
	totals := s.ledger.CurrentTotals()
	c.JSON(http.StatusOK, gin.H{
		"period_start": period.Start.String(),
		"period_end":   period.LastDay().String(),
		"total_eur":    totals.TotalEUR,
		"hc_kwh":       totals.OffPeakKwh,
		"hp_kwh":       totals.PeakKwh,
		"kwh":          totals.Kwh(),
	})
}

func (s *Server) handleTotals(c *gin.Context) {
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be zero or a negative integer"})
			return
		}
		offset = n
	}

	totals, period, found := s.ledger.TotalsForOffset(offset)
	c.JSON(http.StatusOK, gin.H{
		"offset":       offset,
		"period_start": period.Start.String(),
		"period_end":   period.LastDay().String(),
		"found":        found,
		"total_eur":    totals.TotalEUR,
		"hc_kwh":       totals.OffPeakKwh,
		"hp_kwh":       totals.PeakKwh,
	})
}

func (s *Server) handleTariff(c *gin.Context) {
	tariff := s.ledger.Tariff()
	c.JSON(http.StatusOK, gin.H{
		"off_peak_price_eur_kwh": tariff.OffPeakPrice,
		"peak_price_eur_kwh":     tariff.PeakPrice,
		"subscription_eur_month": tariff.MonthlySubscription,
		"billing_start_day":      tariff.BillingStartDay,
	})
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	status, err := s.diag.Load()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": true, "status": status})
}

func (s *Server) handleReport(c *gin.Context) {
	c.String(http.StatusOK, s.diag.Report(s.ledger.Tariff(), time.Now()))
}

func (s *Server) handleResources(c *gin.Context) {
	snapshots := s.sampler.snapshot()
	payload := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		payload = append(payload, gin.H{
			"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
			"cpu_percent":    snap.CPUPercent,
			"memory_percent": snap.MemoryPct,
			"disk_used":      snap.DiskUsed,
			"disk_total":     snap.DiskTotal,
			"disk_percent":   snap.DiskPct,
		})
	}
	c.JSON(http.StatusOK, gin.H{"resources": payload})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8087"
	}
	if strings.HasPrefix(addr, ":") {
		return "0.0.0.0" + addr
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, port)
	}
	return net.JoinHostPort(addr, "8087")
}
