package cmd

import (
	"fmt"

	"github.com/cl4nyz/elevadores-updater/internal/backup"
	"github.com/cl4nyz/elevadores-updater/internal/config"
	"github.com/cl4nyz/elevadores-updater/internal/history"
	"github.com/cl4nyz/elevadores-updater/internal/update"
)

// env is the wired pipeline for one installation.
type env struct {
	cfg     *config.Config
	store   *update.VersionStore
	backups *backup.Manager
	history *history.Store
	manager *update.Manager
}

// loadConfig resolves the config from the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Resolve(configPath, installDir)
	if err != nil {
		return nil, err
	}
	if cfg.Path != "" {
		logger.Debug("loaded config", "path", cfg.Path)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newClassifier combines the configured protection rules with rules for every
// path the updater owns, so a release can never overwrite them.
func newClassifier(cfg *config.Config) (*update.Classifier, error) {
	rules, err := update.ParseRules(cfg.Protected)
	if err != nil {
		return nil, fmt.Errorf("invalid protection rules: %w", err)
	}

	files, dirs := cfg.OwnedPaths()
	for _, f := range files {
		rules = append(rules, update.ExactPath(f))
	}
	for _, d := range dirs {
		rules = append(rules, update.PrefixPath(d+"/"))
	}
	snapshots, err := update.NewGlobPattern(backup.DirPrefix + "*/")
	if err != nil {
		return nil, err
	}
	rules = append(rules, snapshots)
	return update.NewClassifier(rules...), nil
}

// newEnv builds every component from the config. extra options are appended
// to the pipeline options, so they can override the defaults.
func newEnv(extra ...update.Option) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	classifier, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:     cfg,
		store:   update.NewVersionStore(cfg.VersionPath(), cfg.DefaultVersion),
		backups: backup.NewManager(cfg.InstallDir, cfg.BackupRoot(), cfg.Critical, backup.WithLogger(logger)),
	}

	if path := cfg.HistoryPath(); path != "" {
		e.history, err = history.New(path)
		if err != nil {
			logger.Warn("update history unavailable", "path", path, "err", err)
			e.history = nil
		}
	}

	common := []update.Option{
		update.WithLogger(logger),
		update.WithToken(cfg.Release.Token),
		update.WithUserAgent("elevupd/" + buildVersion),
	}
	resolver := update.NewReleaseResolver(cfg.Release.MetadataURL, cfg.Release.FallbackURL,
		append(common, update.WithTimeout(cfg.Release.CheckTimeout.Std()))...)

	opts := append(common,
		update.WithTimeout(cfg.Download.Timeout.Std()),
		update.WithScratchDir(cfg.Download.ScratchDir),
		update.WithLockFile(cfg.LockPath()),
		update.WithLockStaleAfter(cfg.LockStaleAfter.Std()),
	)
	if e.history != nil {
		opts = append(opts, update.WithRecorder(e.history))
	}
	opts = append(opts, extra...)

	e.manager = update.NewManager(cfg.InstallDir, e.store, resolver, classifier, e.backups, opts...)
	return e, nil
}

// Close releases the history database.
func (e *env) Close() {
	if e.history == nil {
		return
	}
	if err := e.history.Close(); err != nil {
		logger.Warn("failed to close history", "err", err)
	}
}
