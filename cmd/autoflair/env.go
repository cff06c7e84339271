package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cognicore/autoflair/internal/export"
	"github.com/cognicore/autoflair/internal/logging"
	"github.com/cognicore/autoflair/internal/reddit"
	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/config"
	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
	"github.com/cognicore/autoflair/pkg/autoflair/model"
	"github.com/cognicore/autoflair/pkg/autoflair/monitor"
	"github.com/cognicore/autoflair/pkg/autoflair/store"
	"github.com/cognicore/autoflair/pkg/autoflair/store/sqlite"
	"github.com/cognicore/autoflair/pkg/autoflair/training"
	"github.com/cognicore/autoflair/pkg/autoflair/vocab"
)

// env is what every command runs against.
type env struct {
	settings *config.Settings
	logger   *zap.Logger
	store    store.Store
}

func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	path, _ := cmd.Flags().GetString("config")
	settings, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}
	if err := config.Validate(settings); err != nil {
		return err
	}

	logger, err := logging.New(settings.Log.Level, settings.Log.File)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Debug("config loaded", config.LogFields(settings)...)

	if err := os.MkdirAll(settings.Data.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	ctx := cmd.Context()
	st, err := sqlite.OpenSQLite(ctx, settings.DatabasePath())
	if err != nil {
		logger.Error("open store", zap.String("path", settings.DatabasePath()), zap.Error(err))
		return err
	}
	defer st.Close()

	err = fn(ctx, &env{settings: settings, logger: logger, store: st})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}
	return nil
}

func (e *env) reddit() (*reddit.Client, error) {
	if err := config.ValidateReddit(e.settings); err != nil {
		return nil, err
	}
	r := e.settings.Reddit
	return reddit.New(reddit.Config{
		Subreddit:         r.Subreddit,
		ClientID:          r.ClientID,
		ClientSecret:      r.ClientSecret,
		Username:          r.Username,
		Password:          r.Password,
		UserAgent:         r.UserAgent,
		BaseURL:           r.BaseURL,
		AuthURL:           r.AuthURL,
		RequestsPerMinute: r.RequestsPerMinute,
		PollInterval:      r.PollInterval,
		Logger:            e.logger.Named("reddit"),
	}), nil
}

// liveCatalog builds the catalog from the subreddit's current flair choices.
func (e *env) liveCatalog(ctx context.Context, client *reddit.Client) (*catalog.Catalog, error) {
	cat, err := catalog.Build(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("build flair catalog: %w", err)
	}
	for _, d := range cat.Duplicates() {
		first, _ := cat.Lookup(d.Text)
		e.logger.Warn("duplicate flair text, using the first template",
			zap.String("flair", d.Text),
			zap.String("template", first.TemplateID),
			zap.String("ignored_template", d.TemplateID))
	}
	e.logger.Info("flair catalog built", zap.Int("flairs", cat.Len()))
	return cat, nil
}

func (e *env) extract(ctx context.Context, client *reddit.Client) error {
	cat, err := e.liveCatalog(ctx, client)
	if err != nil {
		return err
	}

	ex := ingest.NewExtractor(client.History(), cat, e.settings.Data.PostsToExtract, e.logger.Named("extract"))
	records, stats, err := ex.Extract(ctx)
	if err != nil {
		return err
	}
	e.logger.Info("extraction finished",
		zap.Int("seen", stats.Seen),
		zap.Int("accepted", stats.Accepted),
		zap.Int("skipped_flair", stats.SkippedFlair),
		zap.Int("skipped_encoding", stats.SkippedEncoding),
		zap.Int("skipped_invalid", stats.SkippedInvalid))
	if len(records) < e.settings.Data.PostsToExtract {
		e.logger.Warn("history ran out before the requested number of posts",
			zap.Int("requested", e.settings.Data.PostsToExtract), zap.Int("got", len(records)))
	}

	if err := e.store.ReplaceCatalog(ctx, cat.Choices()); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	if err := e.store.ReplaceRecords(ctx, records); err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	return nil
}

func (e *env) storedCatalog(ctx context.Context) (*catalog.Catalog, error) {
	choices, err := e.store.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if len(choices) == 0 {
		return nil, fmt.Errorf("no flair catalog stored, run extract first: %w", internalerr.ErrNotFound)
	}
	return catalog.New(choices)
}

func (e *env) train(ctx context.Context) error {
	cat, err := e.storedCatalog(ctx)
	if err != nil {
		return err
	}
	records, err := e.store.Records(ctx)
	if err != nil {
		return err
	}

	m := e.settings.Model
	res, err := training.Run(ctx, records, cat, training.Settings{
		Lengths:     vocab.Lengths{Title: m.MaxTitleLength, Body: m.MaxBodyLength, Domain: m.MaxDomainLength},
		Smoothing:   m.Smoothing,
		Seed:        m.Seed,
		MinAccuracy: m.MinAccuracy,
	}, e.logger.Named("train"))
	if err != nil {
		return err
	}

	if err := res.Bundle.Save(m.Path); err != nil {
		return err
	}
	e.logger.Info("model saved", zap.String("model", res.Bundle.ID), zap.String("path", m.Path))
	return nil
}

func (e *env) monitor(ctx context.Context, client *reddit.Client) error {
	bundle, err := model.Load(e.settings.Model.Path)
	if err != nil {
		return err
	}
	e.logger.Info("model loaded",
		zap.String("model", bundle.ID),
		zap.Time("created", bundle.CreatedAt),
		zap.Int("flairs", bundle.Catalog.Len()))

	if _, err := monitor.CheckDrift(ctx, client, bundle.Catalog, e.logger); err != nil {
		e.logger.Warn("could not compare live flair catalog", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(reg)
	if addr := e.settings.Monitor.MetricsAddr; addr != "" {
		go e.serveMetrics(ctx, addr, reg)
	}

	tagger, err := monitor.NewTagger(bundle.Encoder, bundle.Model, bundle.Catalog, client, monitor.TaggerOptions{
		Store:   e.store,
		ModelID: bundle.ID,
		Logger:  e.logger.Named("tagger"),
	})
	if err != nil {
		return err
	}
	mon, err := monitor.New(client, tagger, monitor.Options{
		WaitThreshold: e.settings.Monitor.WaitThreshold,
		BackoffDelay:  e.settings.Monitor.BackoffDelay,
		SeenCacheSize: e.settings.Monitor.SeenCacheSize,
		Logger:        e.logger.Named("monitor"),
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}
	return mon.Run(ctx)
}

func (e *env) serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	e.logger.Info("metrics server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		e.logger.Error("metrics server error", zap.Error(err))
	}
}

// run is first-run orchestration: extract when no records are stored, train
// when no model exists, then monitor.
func (e *env) run(ctx context.Context) error {
	client, err := e.reddit()
	if err != nil {
		return err
	}

	n, err := e.store.CountRecords(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		e.logger.Info("no dataset found, extracting")
		if err := e.extract(ctx, client); err != nil {
			return err
		}
	}

	if !model.Exists(e.settings.Model.Path) {
		e.logger.Info("no model found, training", zap.String("path", e.settings.Model.Path))
		if err := e.train(ctx); err != nil {
			return err
		}
	}

	return e.monitor(ctx, client)
}

func (e *env) export(ctx context.Context, path string) error {
	records, err := e.store.Records(ctx)
	if err != nil {
		return err
	}
	if err := export.WriteJSONL(path, records); err != nil {
		return err
	}
	e.logger.Info("dataset exported", zap.Int("records", len(records)), zap.String("path", path))
	return nil
}

// importRecords replaces the dataset with a file's records, cleaned the same
// way extraction cleans them. Records whose flair is not in the catalog or
// whose text cannot be cleaned are dropped; without a stored catalog the live
// one is fetched first.
func (e *env) importRecords(ctx context.Context, path string) error {
	records, err := export.LoadRecords(path, e.logger)
	if err != nil {
		return err
	}

	cat, err := e.storedCatalog(ctx)
	if errors.Is(err, internalerr.ErrNotFound) {
		client, cerr := e.reddit()
		if cerr != nil {
			return cerr
		}
		if cat, err = e.liveCatalog(ctx, client); err == nil {
			err = e.store.ReplaceCatalog(ctx, cat.Choices())
		}
	}
	if err != nil {
		return err
	}

	kept := records[:0]
	for i, r := range records {
		if _, ok := cat.Lookup(r.Flair); !ok {
			e.logger.Warn("flair not in catalog, skipping record", zap.String("flair", r.Flair), zap.String("title", r.Title))
			continue
		}
		cleaned, err := ingest.CleanRecord(r)
		if err != nil {
			e.logger.Warn("skipping record", zap.Int("index", i), zap.Error(err))
			continue
		}
		kept = append(kept, cleaned)
	}
	if err := e.store.ReplaceRecords(ctx, kept); err != nil {
		return err
	}
	e.logger.Info("dataset imported", zap.Int("records", len(kept)), zap.Int("skipped", len(records)-len(kept)))
	return nil
}
