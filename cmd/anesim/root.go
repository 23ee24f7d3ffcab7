package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/iti/ane"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	descFile     string  // experiment description, yaml or json
	paramsFile   string  // run-time parameters, yaml or json
	settingsFile string  // run settings read through viper
	endTime      float64 // simulation time at which the run stops
	traceFile    string  // where the trace of MAC events is written
	logLevel     string  // log verbosity level
	logFile      string  // rotated log file, in addition to stderr
	metricsAddr  string  // address serving /metrics during the run
	lookahead    float64 // minimum delay between partitions
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "anesim",
	Short: "Discrete-event simulation of MAC arbitration on broadcast domains",
}

// runCmd builds the network and runs it
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an experiment",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := resolveSettings(cmd)
		if err != nil {
			return err
		}
		closer, err := setupLogging(settings.LogLevel, settings.LogFile)
		if err != nil {
			return err
		}
		defer closer.Close()

		desc, expCfg, err := ane.GetExperimentDicts(map[string]string{"desc": descFile, "params": paramsFile})
		if err != nil {
			return err
		}

		opts := ane.NetworkOpts{Lookahead: settings.Lookahead}
		if settings.Trace != "" {
			if ok, err := ane.CheckOutputFiles([]string{settings.Trace}); !ok {
				return err
			}
			opts.Trace = ane.CreateTraceManager(desc.Name, true)
		}

		var srv *http.Server
		if settings.MetricsAddr != "" {
			reg := prometheus.NewRegistry()
			opts.Registerer = reg
			srv = serveMetrics(settings.MetricsAddr, reg)
		}

		net, err := ane.BuildNetwork(desc, expCfg, opts)
		if err != nil {
			return err
		}

		startTime := time.Now()
		logrus.Infof("starting %s, end time %g", desc.Name, settings.End)
		if err := net.Run(settings.End); err != nil {
			return err
		}
		logrus.Infof("%s finished in %s", desc.Name, time.Since(startTime))

		if settings.Report {
			net.Finalize(os.Stdout)
		} else {
			net.Finalize(nil)
		}

		if opts.Trace != nil {
			if err := opts.Trace.WriteToFile(settings.Trace); err != nil {
				return err
			}
		}
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
		return nil
	},
}

// validateCmd builds the network without running it
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check an experiment description and its parameters",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		if _, err := setupLogging(logLevel, FileAppenderOpt{}); err != nil {
			return err
		}
		desc, expCfg, err := ane.GetExperimentDicts(map[string]string{"desc": descFile, "params": paramsFile})
		if err != nil {
			return err
		}

		// configuration the model cannot run with panics during the build
		defer func() {
			if r := recover(); r != nil {
				err = errors.Join(errors.New("invalid experiment"), toError(r))
			}
		}()
		if _, err := ane.BuildNetwork(desc, expCfg, ane.NetworkOpts{}); err != nil {
			return err
		}
		logrus.Infof("%s is valid", desc.Name)
		return nil
	},
}

func toError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

// resolveSettings loads the settings file and lets flags given on the command line override it
func resolveSettings(cmd *cobra.Command) (*RunSettings, error) {
	settings, err := loadSettings(settingsFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("end") {
		settings.End = endTime
	}
	if flags.Changed("lookahead") {
		settings.Lookahead = lookahead
	}
	if flags.Changed("log") {
		settings.LogLevel = logLevel
	}
	if flags.Changed("log-file") {
		settings.LogFile.Filename = logFile
	}
	if flags.Changed("trace") {
		settings.Trace = traceFile
	}
	if flags.Changed("metrics-addr") {
		settings.MetricsAddr = metricsAddr
	}
	return settings, nil
}

func serveMetrics(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics server on %s: %v", addr, err)
		}
	}()
	logrus.Infof("serving metrics on %s/metrics", addr)
	return srv
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&descFile, "desc", "", "Experiment description (.yaml or .json)")
	rootCmd.PersistentFlags().StringVar(&paramsFile, "params", "", "Run-time parameters (.yaml or .json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	_ = rootCmd.MarkPersistentFlagRequired("desc")

	runCmd.Flags().StringVar(&settingsFile, "settings", "", "Run settings file")
	runCmd.Flags().Float64Var(&endTime, "end", 10.0, "Simulation time at which the run stops (seconds)")
	runCmd.Flags().Float64Var(&lookahead, "lookahead", 0.0, "Minimum delay between partitions (seconds)")
	runCmd.Flags().StringVar(&traceFile, "trace", "", "Write the trace of MAC events to this file")
	runCmd.Flags().StringVar(&logFile, "log-file", "", "Also write the log to this rotated file")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
