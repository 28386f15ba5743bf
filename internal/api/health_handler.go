package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/copp1723/onekeel-swarm/internal/pkg/httputil"
	"github.com/copp1723/onekeel-swarm/internal/scheduler"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status    string                    `json:"status"` // healthy, degraded, unhealthy
	Uptime    string                    `json:"uptime"`
	Scheduler *scheduler.Health         `json:"scheduler,omitempty"`
	Checks    map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // up, down, degraded
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// SchedulerHealth is satisfied by *scheduler.Scheduler.
type SchedulerHealth interface {
	HealthStatus(ctx context.Context) (scheduler.Health, error)
}

// HealthChecker reports on the scheduler and the stores behind it. Any
// dependency may be nil and is then reported as not configured.
type HealthChecker struct {
	db          *sql.DB
	redisClient *redis.Client
	scheduler   SchedulerHealth
	startTime   time.Time
}

func NewHealthChecker(db *sql.DB, redisClient *redis.Client, sched SchedulerHealth) *HealthChecker {
	return &HealthChecker{
		db:          db,
		redisClient: redisClient,
		scheduler:   sched,
		startTime:   time.Now(),
	}
}

// HandleHealth always answers 200; the status field carries the verdict.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]ComponentCheck{
		"database": hc.checkDatabase(ctx),
		"redis":    hc.checkRedis(ctx),
	}

	status := HealthStatus{
		Uptime: formatUptime(time.Since(hc.startTime)),
		Checks: checks,
	}
	if hc.scheduler != nil {
		h, err := hc.scheduler.HealthStatus(ctx)
		if err != nil {
			checks["scheduler"] = ComponentCheck{Status: "degraded", Message: err.Error()}
		} else {
			status.Scheduler = &h
			checks["scheduler"] = schedulerCheck(h)
		}
	} else {
		checks["scheduler"] = ComponentCheck{Status: "down", Message: "not configured"}
	}
	status.Status = determineOverallStatus(checks)

	httputil.OK(w, status)
}

// HandleLiveness returns 200 while the process is up.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

func schedulerCheck(h scheduler.Health) ComponentCheck {
	if !h.IsRunning {
		return ComponentCheck{Status: "down", Message: "stopped"}
	}
	msg := fmt.Sprintf("%d active executions", h.ActiveCount)
	if h.LastTickAt == nil {
		msg += ", no tick yet"
	}
	return ComponentCheck{Status: "up", Message: msg}
}

func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(pingCtx)
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	if latency > time.Second {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.redisClient.Ping(pingCtx).Err()
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	if latency > 500*time.Millisecond {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

// determineOverallStatus: a configured database that is down makes the
// engine unhealthy; any other configured dependency that is down or slow
// degrades it.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if db, ok := checks["database"]; ok && db.Status == "down" && db.Message != "not configured" {
		return "unhealthy"
	}
	for _, c := range checks {
		if c.Status == "degraded" {
			return "degraded"
		}
		if c.Status == "down" && c.Message != "not configured" {
			return "degraded"
		}
	}
	return "healthy"
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
