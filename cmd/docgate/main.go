package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docgate/internal/api"
	"github.com/ternarybob/docgate/internal/common"
	"github.com/ternarybob/docgate/internal/handlers"
	"github.com/ternarybob/docgate/internal/interfaces"
	"github.com/ternarybob/docgate/internal/models"
	"github.com/ternarybob/docgate/internal/server"
	"github.com/ternarybob/docgate/internal/services/access"
	"github.com/ternarybob/docgate/internal/services/cache"
	"github.com/ternarybob/docgate/internal/services/delivery"
	"github.com/ternarybob/docgate/internal/services/events"
	"github.com/ternarybob/docgate/internal/services/janitor"
	"github.com/ternarybob/docgate/internal/services/status"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	lessonID     = flag.String("lesson", "", "Lesson ID the document belongs to")
	documentID   = flag.String("document", "", "Document ID to open")
	level        = flag.String("level", "NONE", "Protection level (NONE, WATERMARK, FULL)")
	catalogURL   = flag.String("url", "", "Catalog URL (required for NONE documents)")
	timeout      = flag.String("timeout", "5m", "Overall resolution timeout")
	serveMode    = flag.Bool("serve", false, "Run the local presentation server instead of resolving a single document")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Docgate version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("docgate.toml"); err == nil {
			configFiles = append(configFiles, "docgate.toml")
		}
	}

	config, err := common.LoadConfig(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	if *serveMode {
		if err := serve(config, logger); err != nil {
			logger.Fatal().Err(err).Msg("Server exited with error")
			os.Exit(1)
		}
		return
	}

	if *lessonID == "" || *documentID == "" {
		logger.Fatal().Msg("Both -lesson and -document are required")
		os.Exit(1)
	}

	doc := models.Document{
		ID:              *documentID,
		ProtectionLevel: models.ProtectionLevel(*level),
		URL:             *catalogURL,
	}
	if !doc.ProtectionLevel.Valid() {
		logger.Fatal().Str("level", *level).Msg("Unknown protection level")
		os.Exit(1)
	}

	resolveTimeout, err := time.ParseDuration(*timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid -timeout")
		os.Exit(1)
	}

	url, err := resolve(config, logger, *lessonID, doc, resolveTimeout)
	if err != nil {
		logger.Error().Err(err).Str("document_id", doc.ID).Msg("Document resolution failed")
		os.Exit(1)
	}

	fmt.Println(url)
}

// stack holds the wired delivery services shared by both run modes.
type stack struct {
	grants       interfaces.GrantCache
	events       interfaces.EventService
	orchestrator *delivery.Service
	cleanup      []func()
}

func (s *stack) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// buildStack wires the transport, cache, poller, broker, and orchestrator.
func buildStack(config *common.Config, logger arbor.ILogger) (*stack, error) {
	client := api.NewClient(
		config.API.BaseURL,
		api.StaticToken(config.API.Token),
		api.WithLogger(logger),
		api.WithTimeout(config.RequestTimeout()),
		api.WithRateLimit(config.API.RateLimit),
	)

	grants, err := newGrantCache(config, logger)
	if err != nil {
		return nil, err
	}

	s := &stack{grants: grants}
	s.cleanup = append(s.cleanup, func() { grants.Close() })

	if config.Janitor.Enabled {
		sweeper := janitor.NewService(grants, config.Janitor.Schedule, logger)
		if err := sweeper.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start grant cache janitor")
		} else {
			s.cleanup = append(s.cleanup, sweeper.Stop)
		}
	}

	eventService := events.NewService(logger)
	s.events = eventService
	s.cleanup = append(s.cleanup, func() { eventService.Close() })

	statusService := status.NewService(client, logger,
		status.WithInterval(config.PollInterval()),
		status.WithMaxTransientRetry(config.Polling.MaxTransientRetry),
	)
	accessService := access.NewService(client, grants, logger)
	s.orchestrator = delivery.NewService(statusService, accessService, grants, eventService, logger)

	return s, nil
}

// serve runs the local presentation server until an interrupt arrives.
func serve(config *common.Config, logger arbor.ILogger) error {
	s, err := buildStack(config, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	wsHandler, err := handlers.NewWebSocketHandler(s.events, config.EventThrottleInterval(), logger)
	if err != nil {
		return err
	}
	deliveryHandler := handlers.NewDeliveryHandler(s.orchestrator, logger)

	srv := server.New(config, logger, deliveryHandler, wsHandler)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(ctx)
}

// resolve wires the delivery stack, opens the document, and waits for the
// terminal transition.
func resolve(config *common.Config, logger arbor.ILogger, lessonID string, doc models.Document, timeout time.Duration) (string, error) {
	s, err := buildStack(config, logger)
	if err != nil {
		return "", err
	}
	defer s.Close()

	orchestrator := s.orchestrator

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan models.DeliveryEvent, 1)
	err = s.events.Subscribe(interfaces.EventDeliveryTransition, func(ctx context.Context, event interfaces.Event) error {
		transition, ok := event.Payload.(models.DeliveryEvent)
		if !ok || transition.DocumentID != doc.ID {
			return nil
		}

		switch transition.State {
		case models.DeliveryPolling:
			if transition.Status != nil {
				logger.Info().
					Str("status", string(transition.Status.Status)).
					Int("attempts", transition.Status.ProcessingAttempts).
					Msg("Waiting for document processing")
			}
		case models.DeliveryOpened, models.DeliveryErrored:
			select {
			case done <- transition:
			default:
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := orchestrator.Open(ctx, lessonID, doc); err != nil {
		return "", err
	}

	select {
	case transition := <-done:
		if transition.State == models.DeliveryErrored {
			if transition.CanRetry {
				logger.Info().Msg("Processing failed but the server allows a retry")
			}
			return "", fmt.Errorf("%s", transition.Error)
		}
		if transition.RateLimit != nil {
			logger.Info().
				Str("quota", fmt.Sprintf("%d/%d", transition.RateLimit.Remaining, transition.RateLimit.Limit)).
				Msg("Access quota")
		}
		return transition.URL, nil
	case <-ctx.Done():
		orchestrator.CancelView(lessonID)
		return "", fmt.Errorf("document resolution timed out after %s", timeout)
	}
}

// newGrantCache builds the configured cache backend.
func newGrantCache(config *common.Config, logger arbor.ILogger) (interfaces.GrantCache, error) {
	if config.Cache.Backend == "badger" {
		return cache.NewBadgerStore(logger, &config.Cache.Badger)
	}
	return cache.NewMemoryStore(logger), nil
}
