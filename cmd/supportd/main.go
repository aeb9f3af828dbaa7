// UDA-Hub Support Routing Daemon
//
// HTTP service exposing the ticket routing core: customer messages in,
// routed resolutions or escalations out.
//
// Usage:
//
//	go run ./cmd/supportd                          # Default :8080, config.yaml
//	go run ./cmd/supportd -addr :9090 -config /etc/supportd.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/config"
	"github.com/udahub-cluster/supportcore/ticketcore/customer"
	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/knowledge"
	"github.com/udahub-cluster/supportcore/ticketcore/llm"
	"github.com/udahub-cluster/supportcore/ticketcore/observability"
	"github.com/udahub-cluster/supportcore/ticketcore/orchestrator"
	"github.com/udahub-cluster/supportcore/ticketcore/router"
	"github.com/udahub-cluster/supportcore/ticketcore/stage"
	"github.com/udahub-cluster/supportcore/ticketcore/store"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := commbus.NewSlogLogger(cfg.LogLevel)
	logger.Info("supportd_starting", "addr", cfg.Server.Addr)

	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTracer("supportd", cfg.Tracing.Endpoint)
		if err != nil {
			log.Fatalf("Failed to init tracer: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("tracer_shutdown_failed", "error", err.Error())
			}
		}()
	}

	// Communication bus
	bus := commbus.NewInMemoryCommBus(5*time.Second, logger)
	bus.AddMiddleware(commbus.NewLoggingMiddleware(logger))

	var relay *commbus.KafkaRelay
	if len(cfg.Kafka.Brokers) > 0 {
		relay = commbus.NewKafkaRelay(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		relay.Attach(bus)
		defer relay.Close()
		logger.Info("kafka_relay_attached", "topic", cfg.Kafka.Topic)
	}

	// Persistence: durable Badger tier under an in-memory hot tier
	durable, err := store.NewBadgerStore(store.BadgerConfig{
		Path:       cfg.Badger.Path,
		SyncWrites: cfg.Badger.SyncWrites,
		GCInterval: cfg.Badger.GCInterval,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer durable.Close()
	tiered := store.NewTieredStore(durable)

	// Collaborators
	reasoner, err := llm.NewOpenAIReasoner(llm.Config{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create reasoner: %v", err)
	}

	var searcher knowledge.Searcher = knowledge.NullSearcher{}
	if cfg.Weaviate.Host != "" {
		searcher, err = knowledge.NewWeaviateSearcher(knowledge.WeaviateConfig{
			Host:      cfg.Weaviate.Host,
			Scheme:    cfg.Weaviate.Scheme,
			ClassName: cfg.Weaviate.ClassName,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to create knowledge searcher: %v", err)
		}
	} else {
		logger.Warn("knowledge_base_disabled")
	}

	var directory customer.Directory
	if cfg.Postgres.ConnString != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := customer.NewPGDirectory(ctx, cfg.Postgres.ConnString, logger)
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect customer directory: %v", err)
		}
		defer pg.Close()
		directory = pg
	} else {
		logger.Warn("customer_directory_disabled")
	}

	// Routing core
	stages := map[stage.Kind]stage.Stage{
		stage.KindClassifier: stage.NewClassifier(reasoner, logger),
		stage.KindRetriever:  stage.NewRetriever(reasoner, searcher, logger),
		stage.KindResolver:   stage.NewResolver(reasoner, directory, tiered, logger),
		stage.KindEscalation: stage.NewEscalation(reasoner, logger),
	}
	r := router.New(router.Config{
		HighUrgencyMin: cfg.Routing.HighUrgencyMin,
		DefaultMin:     cfg.Routing.DefaultMin,
	})
	orch, err := orchestrator.New(r, stages, tiered, bus, logger, orchestrator.Config{
		MaxTransitions:   cfg.Routing.MaxTransitions,
		RetryMaxAttempts: cfg.Routing.RetryMaxAttempts,
		RetryBackoff:     cfg.Routing.RetryBackoff,
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// HTTP ingress
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST("/v1/sessions/:id/messages", func(c *gin.Context) {
		var req struct {
			ExternalUserID string `json:"external_user_id"`
			Message        string `json:"message" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := orch.HandleMessage(c.Request.Context(), c.Param("id"), req.ExternalUserID, req.Message)
		if err != nil {
			status := http.StatusBadGateway
			if fault.IsInvalidTransition(err) {
				status = http.StatusConflict
			} else if fault.IsRoutingExhausted(err) {
				status = http.StatusUnprocessableEntity
			}
			c.JSON(status, gin.H{
				"session_id": result.SessionID,
				"status":     string(result.Status),
				"error":      err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": result.SessionID,
			"status":     string(result.Status),
			"reply":      result.Reply,
			"hops":       result.Hops,
			"replayed":   result.Replayed,
		})
	})

	engine.GET("/v1/sessions/:id", func(c *gin.Context) {
		resp, err := bus.QuerySync(c.Request.Context(), &commbus.GetSessionStatus{SessionID: c.Param("id")})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		status, ok := resp.(*commbus.SessionStatusResponse)
		if !ok || !status.Found {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, status)
	})

	// Preference edits made by back-office tools land in the durable
	// store directly; this drops the hot-tier copy so the next routing
	// run reads fresh values.
	engine.POST("/v1/preferences/:user_id/invalidate", func(c *gin.Context) {
		cmd := &commbus.InvalidatePreferenceCache{UserID: c.Param("user_id")}
		if err := bus.Send(c.Request.Context(), cmd); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"user_id": cmd.UserID})
	})

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: engine,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()
	logger.Info("supportd_ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http_shutdown_failed", "error", err.Error())
	}
	logger.Info("supportd_stopped")
}
