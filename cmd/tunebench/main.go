package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tunebench/tunebench/pkg/bench"
	"github.com/tunebench/tunebench/pkg/device"
	"github.com/tunebench/tunebench/pkg/log"
	"github.com/tunebench/tunebench/pkg/pool"
	"github.com/tunebench/tunebench/pkg/protocol"
)

var rootCmd = &cobra.Command{
	Use:   "tunebench",
	Short: "Out-of-process kernel benchmarking pool",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			log.Fatal(err)
		}
		switch {
		case verbosity >= 2:
			log.SetLevel(log.TraceLevel)
		case verbosity >= 1:
			log.SetLevel(log.DebugLevel)
		}
	},
}

var workLoopCmd = &cobra.Command{
	Use:    "workloop",
	Short:  "Run the benchmark work loop of a worker subprocess",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		pool.WorkLoopMain()
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices the pool would spawn workers for",
	Run: func(cmd *cobra.Command, args []string) {
		devices, err := device.List(viper.GetBool("multi_device"))
		if err != nil {
			log.Fatal(err)
		}

		for _, dev := range devices {
			if dev == device.Agnostic {
				fmt.Println("any")
			} else {
				fmt.Println(dev)
			}
		}
	},
}

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Run trivial benchmark requests through the pool",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := LoadConfig()
		if err != nil {
			log.Fatal(err)
		}
		if err := config.Validate(); err != nil {
			log.Fatal(err)
		}
		config.Log()

		p := pool.NewPool(config)
		if err := p.Initialize(); err != nil {
			log.Fatal(err)
		}
		defer p.Terminate()

		if config.ListenHttp != "" {
			go func() {
				if err := pool.ListenHttp(p, config.ListenHttp); err != nil {
					log.Error(err)
				}
			}()
		}

		count, err := cmd.Flags().GetInt("items")
		if err != nil {
			log.Fatal(err)
		}

		items := make([]protocol.BenchmarkRequest, 0, count)
		for i := 0; i < count; i++ {
			items = append(items, &bench.LocalRequest{
				Value: float64(i + 1),
				Delay: 10 * time.Millisecond,
			})
		}

		start := time.Now()
		results, err := p.Benchmark(items)
		if err != nil {
			log.Fatal(err)
		}

		values := make([]float64, 0, len(results))
		for _, value := range results {
			values = append(values, value)
		}
		sort.Float64s(values)

		log.Infof("Benchmarked %d items in %v: %v", len(results), time.Since(start), values)
	},
}

func main() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Verbosity (repeatable)")
	rootCmd.PersistentFlags().Bool("multi-device", false, "One worker per visible device")
	rootCmd.PersistentFlags().Duration("result-timeout", 120*time.Second, "Time to wait for a benchmark result")
	rootCmd.PersistentFlags().Duration("graceful-timeout", 3*time.Second, "Time to wait for graceful worker exit")
	rootCmd.PersistentFlags().Duration("terminate-timeout", time.Second, "Time to wait after SIGTERM before SIGKILL")
	rootCmd.PersistentFlags().String("listen-http", "", "Address of the HTTP status endpoint")

	viper.BindPFlag("multi_device", rootCmd.PersistentFlags().Lookup("multi-device"))
	viper.BindPFlag("result_timeout", rootCmd.PersistentFlags().Lookup("result-timeout"))
	viper.BindPFlag("graceful_timeout", rootCmd.PersistentFlags().Lookup("graceful-timeout"))
	viper.BindPFlag("terminate_timeout", rootCmd.PersistentFlags().Lookup("terminate-timeout"))
	viper.BindPFlag("listen_http", rootCmd.PersistentFlags().Lookup("listen-http"))

	viper.SetEnvPrefix("tunebench")
	viper.AutomaticEnv()

	smokeCmd.Flags().Int("items", 5, "Number of smoke requests to benchmark")

	rootCmd.AddCommand(workLoopCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(smokeCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
