package pool

import (
	"fmt"
	"net/http"
	"os"

	"github.com/denisbrodbeck/machineid"
	echo "github.com/labstack/echo/v4"
	"github.com/tunebench/tunebench/pkg/log"
)

func HttpLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		log.Tracef("%4s %s %v", c.Request().Method, c.Request().URL, c.Response().Status)
		return err
	}
}

// NewHttpHandler installs the pool status endpoints on the router.
func NewHttpHandler(pool *Pool, r *echo.Echo) {
	r.GET("/metrics", func(c echo.Context) error {
		metrics := fmt.Sprintln("# TYPE tunebench_pool_workers gauge")
		metrics += fmt.Sprintln("# HELP tunebench_pool_workers The number of workers in circulation.")
		metrics += fmt.Sprintf("tunebench_pool_workers %d\n", pool.WorkerCount())

		metrics += fmt.Sprintln("# TYPE tunebench_pool_dispatched_total counter")
		metrics += fmt.Sprintln("# HELP tunebench_pool_dispatched_total The total number of dispatched benchmark requests.")
		metrics += fmt.Sprintf("tunebench_pool_dispatched_total %d\n", pool.Stats.Dispatched.Load())

		metrics += fmt.Sprintln("# TYPE tunebench_pool_completed_total counter")
		metrics += fmt.Sprintln("# HELP tunebench_pool_completed_total The total number of benchmark requests that returned a measurement.")
		metrics += fmt.Sprintf("tunebench_pool_completed_total %d\n", pool.Stats.Completed.Load())

		metrics += fmt.Sprintln("# TYPE tunebench_pool_timeouts_total counter")
		metrics += fmt.Sprintln("# HELP tunebench_pool_timeouts_total The total number of benchmark requests that timed out.")
		metrics += fmt.Sprintf("tunebench_pool_timeouts_total %d\n", pool.Stats.Timeouts.Load())

		metrics += fmt.Sprintln("# TYPE tunebench_pool_crashes_total counter")
		metrics += fmt.Sprintln("# HELP tunebench_pool_crashes_total The total number of worker crashes observed.")
		metrics += fmt.Sprintf("tunebench_pool_crashes_total %d\n", pool.Stats.Crashes.Load())

		metrics += fmt.Sprintln("# TYPE tunebench_pool_respawns_total counter")
		metrics += fmt.Sprintln("# HELP tunebench_pool_respawns_total The total number of worker respawns after a crash.")
		metrics += fmt.Sprintf("tunebench_pool_respawns_total %d\n", pool.Stats.Respawns.Load())

		c.String(http.StatusOK, metrics)
		return nil
	})

	r.GET("/status", func(c echo.Context) error {
		hostname, _ := os.Hostname()
		host, _ := machineid.ProtectedID("tunebench")

		return c.JSON(http.StatusOK, map[string]interface{}{
			"hostname":   hostname,
			"host_id":    host,
			"workers":    pool.WorkerCount(),
			"devices":    pool.Devices(),
			"dispatched": pool.Stats.Dispatched.Load(),
			"completed":  pool.Stats.Completed.Load(),
			"timeouts":   pool.Stats.Timeouts.Load(),
			"crashes":    pool.Stats.Crashes.Load(),
			"respawns":   pool.Stats.Respawns.Load(),
		})
	})
}

// ListenHttp serves the status endpoints until the process exits.
func ListenHttp(pool *Pool, address string) error {
	r := echo.New()
	r.HideBanner = true
	r.Use(HttpLogger)

	NewHttpHandler(pool, r)
	return r.Start(address)
}
