// Command alarmsd runs the alarms engine: it loads an alarm
// configuration document, subscribes every alarm's source expression
// against a data source, and dispatches triggered actions (email,
// forward, exec) until signaled to stop.
package main

import (
	"bytes"
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campbell-alarms/engine/alarmlog"
	"github.com/campbell-alarms/engine/alarms"
	"github.com/campbell-alarms/engine/datasource/memory"
	"github.com/campbell-alarms/engine/internal/clock"
	"github.com/campbell-alarms/engine/internal/config"
	"github.com/campbell-alarms/engine/internal/execpolicy"
	"github.com/campbell-alarms/engine/internal/logging"
	"github.com/campbell-alarms/engine/internal/metrics"
	"github.com/campbell-alarms/engine/internal/ratelimit"
	"github.com/campbell-alarms/engine/smtp"
)

func main() {
	cfg := config.Default()

	configPath := flag.String("config", cfg.ConfigPath, "path to the alarms XML configuration document")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", cfg.LogFormat, "log format (json or text)")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "listen address for the /metrics endpoint")
	execActionsAllowed := flag.Bool("exec-actions-allowed", cfg.ExecActionsAllowed, "allow exec action templates to run external commands")
	gatewayURL := flag.String("smtp-gateway-url", cfg.GatewayURL, "default HTTP gateway URL for profiles with UseGateway set and no override")
	logDir := flag.String("log-dir", "", "directory for the baled alarm-event log (overrides the XML document's <log> element when set)")
	logBaseName := flag.String("log-file", "alarms.log", "base file name for the baled alarm-event log")
	execAllowlistPath := flag.String("exec-allowlist", "", "path to a YAML file listing commands exec actions may run (empty allows any command once exec actions are enabled)")
	flag.Parse()

	logger := logging.New("alarmsd", *logLevel, *logFormat)
	m := metrics.New()
	c := clock.System{}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatalf("read alarms config %s: %v", *configPath, err)
	}

	alarmLogger := alarmlog.New(resolveLogConfig(data, *logDir, *logBaseName), c, m)
	defer alarmLogger.Close()

	execLimiter := ratelimit.New(ratelimit.RateLimitConfig{RequestsPerSecond: cfg.ExecRatePerSec, Burst: 1})
	gatewayCfg := smtp.DefaultGatewayConfig()
	gatewayCfg.RateLimit = ratelimit.RateLimitConfig{RequestsPerSecond: cfg.GatewayRatePerSec, Burst: 1}
	emailSender := smtp.NewEmailSender(smtp.DefaultConfig(), gatewayCfg, c, logger)

	ds := memory.NewManager()

	mgr := alarms.NewManager(c, ds, alarmLogger, emailSender, *execActionsAllowed, execLimiter, 30*time.Second, m)
	if *execAllowlistPath != "" {
		policy, err := execpolicy.Load(*execAllowlistPath)
		if err != nil {
			log.Fatalf("load exec allowlist %s: %v", *execAllowlistPath, err)
		}
		mgr.SetExecAllowlist(execpolicy.Compile(policy))
	}

	loadErrs := mgr.Load(bytes.NewReader(data))
	for _, e := range loadErrs {
		logger.LogConfigError(context.Background(), *configPath, e)
	}
	if len(loadErrs) > 0 {
		log.Printf("loaded %s with %d error(s); continuing with whatever parsed", *configPath, len(loadErrs))
	}

	if *gatewayURL != "" {
		applyDefaultGatewayURL(mgr, *gatewayURL)
	}

	mgr.StartAll()
	defer mgr.StopAll()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	log.Printf("alarmsd running: %d alarm(s) loaded from %s, metrics on %s", len(mgr.Alarms()), *configPath, *metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown: %v", err)
	}
}

// resolveLogConfig prefers the XML document's <log> element as the
// source of truth (spec §6); the -log-dir/-log-file flags only seed a
// logger when the document carries no <log> element at all.
func resolveLogConfig(data []byte, flagDir, flagBaseName string) alarmlog.Config {
	parsed, ok, err := alarms.ParseLogConfig(bytes.NewReader(data))
	if err != nil {
		log.Printf("parsing <log> element: %v; falling back to flags", err)
		ok = false
	}
	if ok {
		return alarmlog.Config{
			Directory:    parsed.Directory,
			BaseFileName: parsed.BaseFileName,
			MaxSize:      parsed.Size,
			MaxInterval:  time.Duration(parsed.Interval) * time.Millisecond,
			Count:        parsed.Count,
			Enabled:      parsed.Enabled,
		}
	}
	return alarmlog.Config{
		Directory:    flagDir,
		BaseFileName: flagBaseName,
		Enabled:      flagDir != "",
	}
}

// applyDefaultGatewayURL backfills GatewayURL on every profile that has
// UseGateway set but no explicit URL of its own, letting a deployment
// point every gateway-routed profile at one endpoint via a single flag.
func applyDefaultGatewayURL(mgr *alarms.Manager, url string) {
	for _, p := range mgr.Profiles() {
		if p.UseGateway && p.GatewayURL == "" {
			p.GatewayURL = url
		}
	}
}
