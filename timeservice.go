// Device time service

package main

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/tls"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/device-time/base/logbase"
	"example.com/device-time/base/timemath"

	"example.com/device-time/benchmark"

	"example.com/device-time/core/estimator"
	"example.com/device-time/core/prober"
	"example.com/device-time/core/responder"
	"example.com/device-time/core/timebase"

	"example.com/device-time/driver/clocks"

	"example.com/device-time/net/stream"
	"example.com/device-time/net/tsp"
)

const (
	logLevelQuiet = iota
	logLevelDefault
	logLevelVerbose

	transportUDP    = "udp"
	transportStream = "stream"
)

type svcConfig struct {
	LocalAddr             string  `toml:"local_address,omitempty"`
	LocalMetricsAddr      string  `toml:"local_metrics_address,omitempty"`
	RemoteAddr            string  `toml:"remote_address,omitempty"`
	Transport             string  `toml:"transport,omitempty"`
	DSCP                  uint8   `toml:"dscp,omitempty"` // must be in range [0, 63]
	ProbeIntervalInitial  float64 `toml:"probe_interval_initial,omitempty"`
	ProbeInterval         float64 `toml:"probe_interval,omitempty"`
	ProbeTick             float64 `toml:"probe_tick,omitempty"`
	AuthKeyFile           string  `toml:"auth_key_file,omitempty"`
	TLSCertFile           string  `toml:"tls_cert_file,omitempty"`
	TLSKeyFile            string  `toml:"tls_key_file,omitempty"`
	TLSInsecureSkipVerify bool    `toml:"tls_insecure_skip_verify,omitempty"`
}

func initLogger(logLevel int) {
	var h slog.Handler
	if logLevel == logLevelQuiet {
		h = slog.DiscardHandler
	} else {
		var (
			addSource   bool
			level       slog.Leveler
			replaceAttr func(groups []string, a slog.Attr) slog.Attr
		)
		if logLevel == logLevelVerbose {
			_, f, _, ok := runtime.Caller(0)
			var basepath string
			if ok {
				basepath = filepath.Dir(f)
			}
			addSource = true
			level = slog.LevelDebug
			replaceAttr = func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.SourceKey {
					source := a.Value.Any().(*slog.Source)
					if basepath == "" {
						source.File = filepath.Base(source.File)
					} else {
						relpath, err := filepath.Rel(basepath, source.File)
						if err != nil {
							source.File = filepath.Base(source.File)
						} else {
							source.File = relpath
						}
					}
				}
				return a
			}
		}
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			AddSource:   addSource,
			Level:       level,
			ReplaceAttr: replaceAttr,
		})
	}
	slog.SetDefault(slog.New(h))
}

func showInfo() {
	bi, ok := debug.ReadBuildInfo()
	if ok {
		fmt.Print(bi.String())
	}
}

func runMonitor(cfg svcConfig) {
	if cfg.LocalMetricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		err := http.ListenAndServe(cfg.LocalMetricsAddr, nil)
		logbase.Fatal(slog.Default(), "failed to serve metrics", slog.Any("error", err))
	} else {
		select {}
	}
}

func loadConfig(configFile string) svcConfig {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to load configuration", slog.Any("error", err))
	}
	var cfg svcConfig
	err = toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to decode configuration", slog.Any("error", err))
	}
	return cfg
}

func localAddress(cfg svcConfig) *net.UDPAddr {
	if cfg.LocalAddr == "" {
		logbase.Fatal(slog.Default(), "local_address not specified in config")
	}
	localAddr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to parse local address")
	}
	return localAddr
}

func remoteAddress(cfg svcConfig) *net.UDPAddr {
	if cfg.RemoteAddr == "" {
		logbase.Fatal(slog.Default(), "remote_address not specified in config")
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to parse remote address")
	}
	return remoteAddr
}

func transport(cfg svcConfig) string {
	transport := cfg.Transport
	if transport == "" {
		transport = transportUDP
	} else if transport != transportUDP && transport != transportStream {
		logbase.Fatal(slog.Default(), "invalid transport value specified in config")
	}
	return transport
}

func dscp(cfg svcConfig) uint8 {
	if cfg.DSCP > 63 {
		logbase.Fatal(slog.Default(), "invalid differentiated services codepoint value specified in config")
	}
	return cfg.DSCP
}

func probeIntervals(cfg svcConfig) (initial, steady time.Duration) {
	if cfg.ProbeIntervalInitial < 0 || cfg.ProbeInterval < 0 {
		logbase.Fatal(slog.Default(), "invalid probe interval specified in config")
	}
	initial = timemath.Duration(cfg.ProbeIntervalInitial)
	steady = timemath.Duration(cfg.ProbeInterval)
	if initial == 0 {
		initial = estimator.DefaultInitialInterval
	}
	if steady == 0 {
		steady = estimator.DefaultProbeInterval
	}
	if steady < initial {
		logbase.Fatal(slog.Default(), "invalid probe interval specified in config")
	}
	return
}

func probeTick(cfg svcConfig) time.Duration {
	if cfg.ProbeTick < 0 {
		logbase.Fatal(slog.Default(), "invalid probe tick specified in config")
	}
	return timemath.Duration(cfg.ProbeTick)
}

func loadAuthKey(keyFile string) cipher.AEAD {
	if keyFile == "" {
		return nil
	}
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to load authentication key", slog.Any("error", err))
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(key) != tsp.KeyLen {
		logbase.Fatal(slog.Default(), "invalid authentication key", slog.String("file", keyFile))
	}
	aead, err := tsp.NewAEAD(key)
	if err != nil {
		logbase.Fatal(slog.Default(), "failed to initialize authentication", slog.Any("error", err))
	}
	return aead
}

func runServer(configFile string) {
	ctx := context.Background()
	log := slog.Default()

	cfg := loadConfig(configFile)
	remoteAddr := remoteAddress(cfg)

	lclk := clocks.NewSystemClock(log)
	timebase.RegisterClock(lclk)

	initial, steady := probeIntervals(cfg)
	est := estimator.New(log, lclk, initial, steady)

	p := &prober.Prober{
		Log:       log,
		Estimator: est,
		DSCP:      dscp(cfg),
		AEAD:      loadAuthKey(cfg.AuthKeyFile),
		Tick:      probeTick(cfg),
	}

	switch transport(cfg) {
	case transportUDP:
		localAddr := &net.UDPAddr{}
		if cfg.LocalAddr != "" {
			localAddr = localAddress(cfg)
			localAddr.Port = 0
		}
		if remoteAddr.Port == 0 {
			remoteAddr.Port = tsp.DevicePort
		}
		go func() {
			err := p.RunUDP(ctx, localAddr, remoteAddr)
			logbase.Fatal(slog.Default(), "prober stopped", slog.Any("error", err))
		}()
	case transportStream:
		if remoteAddr.Port == 0 {
			remoteAddr.Port = tsp.StreamPort
		}
		tlsCfg := stream.NewTLSClientConfig(cfg.TLSInsecureSkipVerify)
		go func() {
			err := p.RunStream(ctx, remoteAddr.String(), tlsCfg)
			logbase.Fatal(slog.Default(), "prober stopped", slog.Any("error", err))
		}()
	}

	runMonitor(cfg)
}

func runDevice(configFile string) {
	ctx := context.Background()
	log := slog.Default()

	cfg := loadConfig(configFile)
	localAddr := localAddress(cfg)
	localAddr.Port = tsp.DevicePort

	lclk := clocks.NewSystemClock(log)
	timebase.RegisterClock(lclk)

	dscp := dscp(cfg)
	aead := loadAuthKey(cfg.AuthKeyFile)

	var streamAddr string
	var tlsCfg *tls.Config
	if cfg.TLSCertFile != "" || cfg.TLSKeyFile != "" {
		if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
			logbase.Fatal(slog.Default(), "missing TLS parameters in configuration for stream transport")
		}
		tlsCfg = stream.NewTLSServerConfig(cfg.TLSCertFile, cfg.TLSKeyFile)
		streamAddr = (&net.UDPAddr{IP: localAddr.IP, Zone: localAddr.Zone, Port: tsp.StreamPort}).String()
	}

	responder.StartResponder(ctx, log, localAddr, streamAddr, tlsCfg, dscp, aead)

	runMonitor(cfg)
}

func runTool(localAddr, remoteAddr *net.UDPAddr, keyFile string, periodic bool) {
	log := slog.Default()

	lclk := clocks.NewSystemClock(log)
	timebase.RegisterClock(lclk)

	aead := loadAuthKey(keyFile)
	if remoteAddr.Port == 0 {
		remoteAddr.Port = tsp.DevicePort
	}

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		query, response, received, err := prober.Probe(ctx, log, localAddr, remoteAddr, aead)
		if err != nil {
			log.LogAttrs(ctx, slog.LevelInfo, "failed to probe device clock",
				slog.Any("remote", remoteAddr), slog.Any("error", err))
		}
		cancel()
		if err == nil {
			off := response - (query+received)/2
			rtt := received - query
			fmt.Printf("%+.9f,%.9f\n",
				timemath.Seconds(time.Duration(off)), timemath.Seconds(time.Duration(rtt)))
		}
		if !periodic {
			break
		}
		lclk.Sleep(1 * time.Second)
	}
}

func runBenchmark(configFile string, profileRun bool) {
	cfg := loadConfig(configFile)
	log := slog.Default()

	localAddr := localAddress(cfg)
	remoteAddr := remoteAddress(cfg)

	localAddr.Port = 0
	if remoteAddr.Port == 0 {
		remoteAddr.Port = tsp.DevicePort
	}
	aead := loadAuthKey(cfg.AuthKeyFile)

	lclk := clocks.NewSystemClock(slog.New(slog.DiscardHandler))
	timebase.RegisterClock(lclk)
	benchmark.RunBenchmark(localAddr, remoteAddr, aead, profileRun, log)
}

func runGenKey() {
	fmt.Println(hex.EncodeToString(tsp.GenerateKey()))
}

func exitWithUsage() {
	fmt.Println("<usage>")
	os.Exit(1)
}

func main() {
	var (
		quiet         bool
		verbose       bool
		configFile    string
		localAddrStr  string
		remoteAddrStr string
		keyFile       string
		periodic      bool
		profileRun    bool
	)

	infoFlags := flag.NewFlagSet("info", flag.ExitOnError)
	serverFlags := flag.NewFlagSet("server", flag.ExitOnError)
	deviceFlags := flag.NewFlagSet("device", flag.ExitOnError)
	toolFlags := flag.NewFlagSet("tool", flag.ExitOnError)
	benchmarkFlags := flag.NewFlagSet("benchmark", flag.ExitOnError)
	genKeyFlags := flag.NewFlagSet("genkey", flag.ExitOnError)

	serverFlags.BoolVar(&quiet, "quiet", false, "Disable logging")
	serverFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	serverFlags.StringVar(&configFile, "config", "", "Config file")

	deviceFlags.BoolVar(&quiet, "quiet", false, "Disable logging")
	deviceFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	deviceFlags.StringVar(&configFile, "config", "", "Config file")

	toolFlags.BoolVar(&quiet, "quiet", false, "Disable logging")
	toolFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	toolFlags.StringVar(&localAddrStr, "local", "", "Local address")
	toolFlags.StringVar(&remoteAddrStr, "remote", "", "Remote address")
	toolFlags.StringVar(&keyFile, "auth-key", "", "Authentication key file")
	toolFlags.BoolVar(&periodic, "periodic", false, "Perform periodic probes")

	benchmarkFlags.BoolVar(&quiet, "quiet", false, "Disable logging")
	benchmarkFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	benchmarkFlags.StringVar(&configFile, "config", "", "Config file")
	benchmarkFlags.BoolVar(&profileRun, "profile", false, "Profile CPU usage")

	logLevel := func() int {
		if quiet && verbose {
			exitWithUsage()
		}
		if quiet {
			return logLevelQuiet
		}
		if verbose {
			return logLevelVerbose
		}
		return logLevelDefault
	}

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case infoFlags.Name():
		err := infoFlags.Parse(os.Args[2:])
		if err != nil || infoFlags.NArg() != 0 {
			exitWithUsage()
		}
		showInfo()
	case serverFlags.Name():
		err := serverFlags.Parse(os.Args[2:])
		if err != nil || serverFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(logLevel())
		runServer(configFile)
	case deviceFlags.Name():
		err := deviceFlags.Parse(os.Args[2:])
		if err != nil || deviceFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(logLevel())
		runDevice(configFile)
	case toolFlags.Name():
		err := toolFlags.Parse(os.Args[2:])
		if err != nil || toolFlags.NArg() != 0 {
			exitWithUsage()
		}
		localAddr := &net.UDPAddr{}
		if localAddrStr != "" {
			localAddr, err = net.ResolveUDPAddr("udp", localAddrStr)
			if err != nil {
				exitWithUsage()
			}
		}
		remoteAddr, err := net.ResolveUDPAddr("udp", remoteAddrStr)
		if err != nil || remoteAddr.IP == nil {
			exitWithUsage()
		}
		initLogger(logLevel())
		runTool(localAddr, remoteAddr, keyFile, periodic)
	case benchmarkFlags.Name():
		err := benchmarkFlags.Parse(os.Args[2:])
		if err != nil || benchmarkFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(logLevel())
		runBenchmark(configFile, profileRun)
	case genKeyFlags.Name():
		err := genKeyFlags.Parse(os.Args[2:])
		if err != nil || genKeyFlags.NArg() != 0 {
			exitWithUsage()
		}
		runGenKey()
	case "t":
		runT()
	default:
		exitWithUsage()
	}
}
