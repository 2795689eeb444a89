// Command pageguard runs the disk-usage eviction loop behind a small
// admin surface (Gin, Echo, Fiber and gRPC all mounted side by side, each
// on its own port), with the HTTP surfaces guarded by a
// FairGCRA limiter so a misbehaving operator script can't storm the
// manual-trigger endpoint.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/kestrelstore/pageguard/admin/echoadmin"
	"github.com/kestrelstore/pageguard/admin/fiberadmin"
	"github.com/kestrelstore/pageguard/admin/ginadmin"
	"github.com/kestrelstore/pageguard/admin/grpcadmin"
	"github.com/kestrelstore/pageguard/eviction"
	"github.com/kestrelstore/pageguard/eviction/reportstore"
	"github.com/kestrelstore/pageguard/fairgcra"
	"github.com/kestrelstore/pageguard/internal/logx"
	"github.com/kestrelstore/pageguard/internal/pgconfig"
	"github.com/kestrelstore/pageguard/metrics"
)

// emptyTenantSource is the default TenantSource when nothing else has
// been wired in: no tenants means every iteration short-circuits on
// ListTenantIDs, same as an idle pageserver with no attached tenants.
// A storage integration replaces this with one that walks its own
// tenant/timeline registry.
type emptyTenantSource struct{}

func (emptyTenantSource) ListTenantIDs(context.Context) ([]string, error) { return nil, nil }
func (emptyTenantSource) GetTenant(context.Context, string) (eviction.Tenant, bool) {
	return nil, false
}

func main() {
	cfg, err := pgconfig.Load()
	if err != nil {
		log.Fatalf("pageguard: config: %v", err)
	}

	log_ := logx.New("MAIN", cfg.LogLevel)
	evictionLog := logx.New("EVICTION", cfg.LogLevel)
	gcraLog := logx.New("FAIRGCRA", cfg.LogLevel)

	promCollector := metrics.NewEvictionCollector(metrics.WithNamespace("pageguard"), metrics.WithSubsystem("eviction"))
	gcraCollector := metrics.NewFairGCRACollector(metrics.WithNamespace("pageguard"), metrics.WithSubsystem("admin_rate_limit"))

	adminLimiter := fairgcra.New(
		cfg.AdminRate.RPS,
		cfg.AdminRate.Burst,
		cfg.AdminRate.InitialTokens,
		fairgcra.WithLogger(gcraLog),
		fairgcra.WithMetrics(gcraCollector.ForName("admin")),
	)

	var reports reportstore.Store
	if boltStore, err := reportstore.NewBoltReportStore(cfg.BoltPath, 200); err != nil {
		log_.Errorf("startup", "bolt report store: %v", err)
	} else {
		reports = boltStore
		defer boltStore.Close()
	}

	loop, err := eviction.Launch(
		cfg.Eviction,
		eviction.NopStorageHook{},
		emptyTenantSource{},
		eviction.WithLogger(evictionLog),
		eviction.WithMetrics(promCollector),
	)
	if err != nil {
		log.Fatalf("pageguard: eviction.Launch: %v", err)
	}
	if loop != nil {
		defer loop.Stop()
		go mirrorReports(loop, reports, evictionLog)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ginSrv := buildGinServer(loop, adminLimiter, log_)
	echoSrv := buildEchoServer(loop, adminLimiter, log_)
	fiberSrv := buildFiberServer(loop, adminLimiter, log_)
	grpcSrv := grpcadmin.NewGRPCServer(grpcadmin.NewServer(loop))

	grpcLis, err := net.Listen("tcp", addrFor(cfg.AdminPort+1))
	if err != nil {
		log.Fatalf("pageguard: grpc listen: %v", err)
	}

	go func() {
		log_.Infof("listen", "gin admin on %s", addrFor(cfg.AdminPort))
		if err := ginSrv.Run(addrFor(cfg.AdminPort)); err != nil && err != http.ErrServerClosed {
			log_.Errorf("serve", "gin: %v", err)
		}
	}()
	go func() {
		log_.Infof("listen", "echo admin on %s", addrFor(cfg.AdminPort+2))
		if err := echoSrv.Start(addrFor(cfg.AdminPort + 2)); err != nil && err != http.ErrServerClosed {
			log_.Errorf("serve", "echo: %v", err)
		}
	}()
	go func() {
		log_.Infof("listen", "fiber admin on %s", addrFor(cfg.AdminPort+3))
		if err := fiberSrv.Listen(addrFor(cfg.AdminPort + 3)); err != nil {
			log_.Errorf("serve", "fiber: %v", err)
		}
	}()
	go func() {
		log_.Infof("listen", "grpc admin on %s", grpcLis.Addr().String())
		if err := grpcSrv.Serve(grpcLis); err != nil {
			log_.Errorf("serve", "grpc: %v", err)
		}
	}()

	<-ctx.Done()
	log_.Info("shutdown", "signal received, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = echoSrv.Shutdown(shutdownCtx)
	_ = fiberSrv.ShutdownWithContext(shutdownCtx)
	grpcSrv.GracefulStop()
}

func addrFor(port int) string {
	return ":" + strconv.Itoa(port)
}

// rateLimited gates a request behind the admin FairGCRA instance: a burst
// of trigger requests queues FIFO instead of thundering into the eviction
// loop's own TryLock rejection. It returns true once the request has been
// admitted, and false only together with the context's error.
func rateLimited(ctx context.Context, fg *fairgcra.FairGCRA) (bool, error) {
	if _, err := fg.Acquire(ctx, 1); err != nil {
		return false, err
	}
	return true, nil
}

func buildGinServer(loop *eviction.Loop, fg *fairgcra.FairGCRA, log_ *logx.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	admin := r.Group("/admin")
	admin.Use(func(c *gin.Context) {
		ok, err := rateLimited(c.Request.Context(), fg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	})
	ginadmin.Register(admin, loop)
	return r
}

func buildEchoServer(loop *eviction.Loop, fg *fairgcra.FairGCRA, log_ *logx.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	admin := e.Group("/admin")
	admin.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, err := rateLimited(c.Request().Context(), fg)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
			}
			if !ok {
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	})
	echoadmin.Register(admin, loop)
	return e
}

func buildFiberServer(loop *eviction.Loop, fg *fairgcra.FairGCRA, log_ *logx.Logger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	admin := app.Group("/admin")
	admin.Use(func(c *fiber.Ctx) error {
		ok, err := rateLimited(c.Context(), fg)
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		if !ok {
			return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limited"})
		}
		return c.Next()
	})
	fiberadmin.Register(admin, loop)
	return app
}

// mirrorReports polls the loop's last report once a second and persists
// each new one to durable storage so operators can inspect history after a
// restart, without the eviction loop itself depending on a storage
// backend. An iteration whose report is replaced by a later one within the
// same poll interval is not persisted.
func mirrorReports(loop *eviction.Loop, reports reportstore.Store, log_ *logx.Logger) {
	if reports == nil {
		return
	}
	var lastSeen uint64
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		r := loop.LastReport()
		if r.IterationNo == 0 || r.IterationNo == lastSeen {
			continue
		}
		lastSeen = r.IterationNo
		if err := reports.Append(context.Background(), r); err != nil {
			log_.Errorf("mirror", "append report: %v", err)
		}
	}
}
