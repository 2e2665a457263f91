package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "cellguard/internal/api/http"
	"cellguard/internal/audit"
	"cellguard/internal/auth"
	"cellguard/internal/config"
	"cellguard/internal/drivers"
	"cellguard/internal/eventing"
	"cellguard/internal/eventlog"
	"cellguard/internal/observability/metrics"
	"cellguard/internal/risk"
	"cellguard/internal/rules"
	"cellguard/internal/safety"
	"cellguard/internal/signals"
	"cellguard/internal/supervisor"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	}

	metrics.Init(db, logger)

	var auditLogger audit.Logger
	var store eventlog.Store
	if db != nil {
		auditLogger = audit.NewRepository(db)
		store, err = eventlog.NewPostgresStore(db)
		if err != nil {
			logger.Fatalf("event store error: %v", err)
		}
	} else {
		logger.Printf("no database configured, using in-memory stores")
		auditLogger = audit.NewMemoryLogger(0)
		store = eventlog.NewMemoryStore(0)
	}

	specs, err := cfg.SourceSpecs()
	if err != nil {
		logger.Fatalf("source config error: %v", err)
	}
	bus, err := signals.NewBus(specs, cfg.MissedCycleFactor, signals.WithLogger(logger))
	if err != nil {
		logger.Fatalf("signal bus error: %v", err)
	}

	history, err := risk.NewHistory(cfg.HistorySize)
	if err != nil {
		logger.Fatalf("history error: %v", err)
	}
	analyzer, err := risk.NewAnalyzer(cfg.RiskThresholds())
	if err != nil {
		logger.Fatalf("analyzer error: %v", err)
	}

	engine, err := rules.NewEngine(rules.BuiltinRules(cfg.RiskThresholds()),
		rules.WithAuditLogger(auditLogger),
		rules.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("rule engine error: %v", err)
	}

	machine, err := safety.NewMachine(cfg.Debounce, safety.WithMachineLogger(logger))
	if err != nil {
		logger.Fatalf("state machine error: %v", err)
	}

	events := eventing.NewInMemoryBus()
	requester := drivers.NewLogRequester(logger)

	sup, err := supervisor.New(bus, analyzer, history, engine, machine, events, store, cfg.Tick,
		supervisor.WithLogger(logger),
		supervisor.WithAuditLogger(auditLogger),
		supervisor.WithRequester(requester),
	)
	if err != nil {
		logger.Fatalf("supervisor error: %v", err)
	}

	watchdog, err := signals.NewWatchdog(bus, cfg.WatchdogInterval, sup.ForceFailSafe, logger)
	if err != nil {
		logger.Fatalf("watchdog error: %v", err)
	}

	broker := apihttp.NewSSEBroker()
	events.Subscribe(eventing.EventTypeOf[safety.InterventionEvent](), func(ctx context.Context, event any) error {
		evt, ok := event.(safety.InterventionEvent)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		broker.Notify(ctx, evt)
		return nil
	})

	sim, err := drivers.NewSimulator(bus, specs, drivers.DefaultScenario(), drivers.WithSimLogger(logger))
	if err != nil {
		logger.Fatalf("simulator error: %v", err)
	}

	statusHandler, err := apihttp.NewStatusHandler(sup, bus)
	if err != nil {
		logger.Fatalf("status handler error: %v", err)
	}
	signalsHandler, err := apihttp.NewSignalsHandler(bus)
	if err != nil {
		logger.Fatalf("signals handler error: %v", err)
	}
	riskHandler, err := apihttp.NewRiskHandler(sup)
	if err != nil {
		logger.Fatalf("risk handler error: %v", err)
	}
	rulesHandler, err := apihttp.NewRulesHandler(engine)
	if err != nil {
		logger.Fatalf("rules handler error: %v", err)
	}
	commandsHandler, err := apihttp.NewCommandsHandler(sup)
	if err != nil {
		logger.Fatalf("commands handler error: %v", err)
	}
	interventionsHandler, err := apihttp.NewInterventionsHandler(store)
	if err != nil {
		logger.Fatalf("interventions handler error: %v", err)
	}
	exportsHandler, err := apihttp.NewExportsHandler(cfg.Cell, store, auditLogger)
	if err != nil {
		logger.Fatalf("exports handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/status", statusHandler)
	mux.Handle("/api/v1/signals", signalsHandler)
	mux.Handle("/api/v1/risk", riskHandler)
	mux.Handle("/api/v1/rules", rulesHandler)
	mux.Handle("/api/v1/rules/", rulesHandler)
	mux.Handle("/api/v1/commands", commandsHandler)
	mux.Handle("/api/v1/interventions", interventionsHandler)
	mux.Handle("/api/v1/interventions/stream", apihttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/exports/interventions.xlsx", exportsHandler)
	mux.Handle("/api/v1/exports/interventions.pdf", exportsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sim.Run(ctx)
	go watchdog.Run(ctx)
	go sup.Run(ctx)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Printf("supervisor shut down")
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working behind the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
