package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/inferloop/tsforecast/internal/server"
)

type Flags struct {
	Port        int
	Host        string
	ConfigFile  string
	LogLevel    string
	LogFormat   string
	MetricsPort int
	Source      string
	SourceURL   string
	Sink        string
	SinkURL     string
	TLSCert     string
	TLSKey      string
	Version     bool

	// set records which flags were given explicitly
	set map[string]bool
}

func ParseFlags() *Flags {
	flags := &Flags{set: make(map[string]bool)}

	flag.IntVar(&flags.Port, "port", 8080, "Server port")
	flag.StringVar(&flags.Host, "host", "0.0.0.0", "Server host")
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to configuration file")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&flags.LogFormat, "log-format", "json", "Log format (json, text)")
	flag.IntVar(&flags.MetricsPort, "metrics-port", 9090, "Prometheus metrics port")
	flag.StringVar(&flags.Source, "source", "none", "Observation source (none, file, influxdb, timescaledb, s3)")
	flag.StringVar(&flags.SourceURL, "source-url", "", "Observation source connection string")
	flag.StringVar(&flags.Sink, "sink", "none", "Result sink (none, file, redis, timescaledb, s3)")
	flag.StringVar(&flags.SinkURL, "sink-url", "", "Result sink connection string")
	flag.StringVar(&flags.TLSCert, "tls-cert", "", "Path to TLS certificate")
	flag.StringVar(&flags.TLSKey, "tls-key", "", "Path to TLS key")
	flag.BoolVar(&flags.Version, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nTime Series Forecasting and Anomaly Detection Server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	flag.Visit(func(f *flag.Flag) { flags.set[f.Name] = true })

	if flags.Version {
		info := GetBuildInfo()
		fmt.Printf("Version: %s\n", info.Version)
		fmt.Printf("Git Commit: %s\n", info.GitCommit)
		fmt.Printf("Build Date: %s\n", info.BuildDate)
		fmt.Printf("Go Version: %s\n", info.GoVersion)
		fmt.Printf("Platform: %s\n", info.Platform)
		os.Exit(0)
	}

	return flags
}

// Apply overrides the loaded configuration with flags given on the command line
func (f *Flags) Apply(config *server.Config) {
	if f.set["port"] {
		config.Server.Port = f.Port
	}
	if f.set["host"] {
		config.Server.Host = f.Host
	}
	if f.set["log-level"] {
		config.Logging.Level = f.LogLevel
	}
	if f.set["log-format"] {
		config.Logging.Format = f.LogFormat
	}
	if f.set["metrics-port"] {
		config.Metrics.Port = f.MetricsPort
	}
	if f.set["source"] {
		config.Source.Type = f.Source
	}
	if f.set["source-url"] {
		config.Source.ConnectionString = f.SourceURL
	}
	if f.set["sink"] {
		config.Sink.Type = f.Sink
	}
	if f.set["sink-url"] {
		config.Sink.ConnectionString = f.SinkURL
	}
	if f.set["tls-cert"] {
		config.Server.TLSCertFile = f.TLSCert
	}
	if f.set["tls-key"] {
		config.Server.TLSKeyFile = f.TLSKey
	}
}
