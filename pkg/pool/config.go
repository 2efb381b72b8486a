package pool

import (
	"errors"
	"os"
	"time"

	"github.com/tunebench/tunebench/pkg/log"
)

type Config struct {
	// Create one worker per visible device. When disabled, a single
	// device-agnostic worker is used.
	MultiDevice bool `mapstructure:"multi_device"`

	// Time to wait for a benchmark result before declaring the worker
	// hung.
	ResultTimeout time.Duration `mapstructure:"result_timeout"`

	// Time to allow a worker to exit after the termination sentinel.
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`

	// Time to allow a worker to exit after SIGTERM before SIGKILL.
	TerminateTimeout time.Duration `mapstructure:"terminate_timeout"`

	// Executable spawned for worker subprocesses. Defaults to the
	// current executable.
	WorkerExecutable string `mapstructure:"worker_executable"`

	// Arguments passed to the worker executable. The invocation must
	// enter the work loop, reading requests on stdin and writing
	// responses on stdout.
	WorkerArgs []string `mapstructure:"worker_args"`

	// Address of the HTTP status endpoint. Empty disables the endpoint.
	ListenHttp string `mapstructure:"listen_http"`
}

func DefaultConfig() *Config {
	return &Config{
		ResultTimeout:    120 * time.Second,
		GracefulTimeout:  3 * time.Second,
		TerminateTimeout: time.Second,
		WorkerArgs:       []string{"workloop"},
	}
}

// Checks if the pool configuration is valid.
func (c *Config) Validate() error {
	if c.ResultTimeout <= 0 {
		return errors.New("The result timeout must be greater than zero")
	}

	if c.GracefulTimeout <= 0 {
		return errors.New("The graceful timeout must be greater than zero")
	}

	if c.TerminateTimeout <= 0 {
		return errors.New("The terminate timeout must be greater than zero")
	}

	if c.WorkerExecutable == "" {
		exe, err := os.Executable()
		if err != nil {
			return errors.New("A worker executable is required")
		}
		c.WorkerExecutable = exe
	}

	return nil
}

func (c *Config) Log() {
	log.Info("Pool configuration:")
	log.Infof("  multi_device = %v", c.MultiDevice)
	log.Infof("  result_timeout = %v", c.ResultTimeout)
	log.Infof("  graceful_timeout = %v", c.GracefulTimeout)
	log.Infof("  terminate_timeout = %v", c.TerminateTimeout)
	log.Infof("  worker_executable = %s", c.WorkerExecutable)
	log.Infof("  worker_args = %v", c.WorkerArgs)
	log.Infof("  listen_http = %s", c.ListenHttp)
}
