package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"google.golang.org/api/idtoken"

	"github.com/Lllllllleong/bookintake/internal/backend"
	"github.com/Lllllllleong/bookintake/internal/config"
	"github.com/Lllllllleong/bookintake/internal/feed"
	"github.com/Lllllllleong/bookintake/internal/gcp"
	"github.com/Lllllllleong/bookintake/internal/logging"
	"github.com/Lllllllleong/bookintake/internal/notify"
	"github.com/Lllllllleong/bookintake/internal/services"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// runtime holds the clients one command invocation needs.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	client    *backend.Client
	firestore *firestore.Client
	storage   *storage.Client
	feed      feed.Feed
	sink      notify.Sink
	events    *notify.CloudEventSink
}

func (c *commandContext) openRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	principal, err := newPrincipal(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client, err := backend.NewClient(cfg.Backend.URL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
		backend.WithTransferClient(&http.Client{Timeout: cfg.TransferTimeout()}),
		backend.WithSession(backend.NewSession(principal)),
		backend.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	opts := gcp.ClientOptions(cfg.Firebase.CredentialsFile)
	fsClient, err := gcp.NewFirestoreClient(ctx, cfg.Firebase.ProjectID, cfg.Firebase.DatabaseID, opts...)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		firestore: fsClient,
		feed:      feed.NewFirestoreFeed(fsClient, logger),
	}

	// Only gs:// write targets need a storage client.
	if storageClient, err := gcp.NewStorageClient(ctx, opts...); err != nil {
		logger.Debug("Storage client unavailable, signed URLs only.", "error", err)
	} else {
		rt.storage = storageClient
	}

	sinks := notify.Multi{notify.LogSink{Logger: logger}, consoleSink(cmd)}
	if target := strings.TrimSpace(cfg.Notifications.CloudEventsTarget); target != "" {
		ceSink, err := notify.NewCloudEventSink(target, cfg.Notifications.Source, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.events = ceSink
		sinks = append(sinks, ceSink)
	}
	rt.sink = sinks
	return rt, nil
}

// newPrincipal prefers a configured ID token and otherwise mints one for the
// backend audience from the service-account credentials.
func newPrincipal(ctx context.Context, cfg *config.Config) (backend.Principal, error) {
	if cfg.Firebase.OwnerID == "" {
		return nil, fmt.Errorf("owner id must be set (firebase.owner_id or BOOKINTAKE_OWNER_ID)")
	}
	if cfg.Firebase.IDToken != "" {
		return backend.NewStaticPrincipal(cfg.Firebase.OwnerID, cfg.Firebase.IDToken), nil
	}
	source, err := idtoken.NewTokenSource(ctx, cfg.Backend.URL, gcp.ClientOptions(cfg.Firebase.CredentialsFile)...)
	if err != nil {
		return nil, fmt.Errorf("no id token configured and none could be minted: %w", err)
	}
	return backend.NewTokenPrincipal(cfg.Firebase.OwnerID, source), nil
}

func (r *runtime) Close() {
	if r.events != nil {
		r.events.Close()
	}
	if r.firestore != nil {
		if err := r.firestore.Close(); err != nil {
			r.logger.Warn("Failed to close Firestore client", "error", err)
		}
	}
	if r.storage != nil {
		if err := r.storage.Close(); err != nil {
			r.logger.Warn("Failed to close Storage client", "error", err)
		}
	}
}

func (r *runtime) newOrchestrator(observer func(services.PipelineState)) *services.Orchestrator {
	machine := services.NewPipelineMachine(r.feed,
		services.WithPipelineSink(r.sink),
		services.WithPipelineLogger(r.logger),
		services.WithProcessingTimeout(r.cfg.ProcessingTimeout()),
		services.WithPipelineObserver(observer),
	)
	uploaderOpts := []services.UploaderOption{services.WithUploaderLogger(r.logger)}
	if r.storage != nil {
		uploaderOpts = append(uploaderOpts, services.WithStorageClient(r.storage))
	}
	return services.NewOrchestrator(
		services.NewObjectUploader(r.client, r.client, uploaderOpts...),
		services.NewPipelineTrigger(r.client, r.logger),
		machine,
		r.client.Session(),
		services.WithOrchestratorLogger(r.logger),
		services.WithMaxConcurrentUploads(r.cfg.Upload.MaxConcurrent),
	)
}

func (r *runtime) newCoordinator(observer func(services.AssessmentState)) *services.AssessmentCoordinator {
	return services.NewAssessmentCoordinator(r.client, r.feed, r.client.Session(),
		services.WithAssessmentSink(r.sink),
		services.WithAssessmentLogger(r.logger),
		services.WithAssessmentObserver(observer),
	)
}

func (r *runtime) ownerID() string {
	if p := r.client.Session().Principal(); p != nil {
		return p.OwnerID()
	}
	return ""
}

// consoleSink prints notifications for the person at the terminal.
func consoleSink(cmd *cobra.Command) notify.Sink {
	out := cmd.ErrOrStderr()
	return notify.SinkFunc(func(n notify.Notification) {
		fmt.Fprintf(out, "[%s] %s\n", n.Kind, n.Message)
	})
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
