// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/playdeck/internal/api/connect"
	"github.com/osa030/playdeck/internal/app/filter"
	"github.com/osa030/playdeck/internal/app/playback"
	"github.com/osa030/playdeck/internal/app/resolver"
	"github.com/osa030/playdeck/internal/app/session"
	"github.com/osa030/playdeck/internal/domain/track"
	"github.com/osa030/playdeck/internal/infra/cache"
	"github.com/osa030/playdeck/internal/infra/config"
	"github.com/osa030/playdeck/internal/infra/logger"
	"github.com/osa030/playdeck/internal/infra/sink"
	"github.com/osa030/playdeck/internal/infra/spotify"
	"github.com/osa030/playdeck/internal/infra/youtube"
)

var (
	app        = kingpin.New("playdeck-server", "playdeck playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Bootstrap logging so config errors are visible.
	if _, err := logger.Init(logger.Config{Output: "stdout", Level: "info"}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	closer, err := logger.Init(loggerConfig(cfg))
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

// loggerConfig merges the config file with command-line flags; flags win.
func loggerConfig(cfg *config.Config) logger.Config {
	lc := logger.Config{Output: "stdout", Level: cfg.Log.Level}
	if cfg.Log.File != "" {
		lc.Output = cfg.Log.File
		lc.File = cfg.Log.File
	}
	if *verbose {
		lc.Level = "debug"
	}
	if *logfile != "" {
		lc.Output = *logfile
		lc.File = *logfile
	}
	return lc
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	filters := filterSettings(cfg)
	if err := validateFilterConfig(filters); err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	res, finder, closeResolver, err := buildResolver(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResolver()

	pool := resolver.NewPool(res, resolver.Config{
		Workers:        cfg.Resolver.Workers,
		MaxAttempts:    cfg.Resolver.MaxAttempts,
		AttemptTimeout: cfg.AttemptTimeout(),
		PlaylistLimit:  cfg.Resolver.PlaylistLimit,
	})
	defer pool.Close()

	out, err := sink.OpenSpeaker(beep.SampleRate(cfg.Sink.SampleRate), cfg.Buffer())
	if err != nil {
		return errors.Wrap(err, "failed to open audio output")
	}
	defer out.Close()
	decoder := sink.FFmpeg{Path: cfg.Sink.FFmpegPath}

	sessionMgr := session.NewManager(session.Config{
		IdleTimeout:   cfg.IdleTimeout(),
		DefaultVolume: cfg.Session.DefaultVolume,
		PageSize:      cfg.Session.PageSize,
		Messages:      cfg.MessageTable(),
	}, pool, func(string) (playback.Sink, error) {
		return sink.New(out, decoder), nil
	}, filters, session.WithFinder(finder))

	service := apiconnect.NewPlaybackService(sessionMgr)
	path, handler := service.Handler(connect.WithInterceptors(apiconnect.NewLoggingInterceptor()))

	mux := http.NewServeMux()
	mux.Handle(path, handler)

	serverAddr := cfg.Server.Addr
	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    serverAddr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", serverAddr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		serveErr = errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close sessions first to terminate active streams
	if err := sessionMgr.Close(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to close sessions: %v", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return serveErr
}

// buildResolver wires the platform routes and the search finder. The
// returned func releases the resolution cache.
func buildResolver(ctx context.Context, cfg *config.Config) (resolver.Resolver, session.Finder, func(), error) {
	yt := youtube.New(youtube.Config{
		Path:          cfg.Resolver.YtdlpPath,
		Proxy:         cfg.Resolver.Proxy,
		SearchResults: cfg.Resolver.SearchResults,
		PlaylistLimit: cfg.Resolver.PlaylistLimit,
	})
	search := resolver.NewChain(
		resolver.NamedExtractor{Extractor: yt.Searcher(youtube.PrefixYouTube), Name: "youtube-search"},
		resolver.NamedExtractor{Extractor: yt.Searcher(youtube.PrefixSoundCloud), Name: "soundcloud-search"},
	)

	router := resolver.NewRouter()
	for _, platform := range []track.Platform{track.PlatformYouTube, track.PlatformSoundCloud, track.PlatformWeb} {
		router.Handle(platform, resolver.Route{Name: "yt-dlp", Extractor: yt, Expander: yt})
	}
	router.Handle(track.PlatformSearch, resolver.Route{Name: "search", Extractor: search})
	finder := yt.Searcher(youtube.PrefixYouTube)

	if cfg.SpotifyEnabled() {
		sp, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
			Limit:        cfg.Resolver.PlaylistLimit,
		})
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "failed to create Spotify client")
		}
		catalog := resolver.NewCatalogRoute(sp, search)
		router.Handle(track.PlatformSpotify, resolver.Route{Name: "spotify", Extractor: catalog, Expander: catalog})
	} else {
		zlog.Info().Msg("Spotify credentials not configured, Spotify links are unsupported")
	}

	if cfg.Cache.Path == "" {
		return router, finder, func() {}, nil
	}

	store, err := cache.Open(cfg.Cache.Path, cfg.CacheTTL())
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to open resolution cache")
	}
	if n, err := store.Prune(ctx); err != nil {
		zlog.Warn().Msgf("Failed to prune resolution cache: %v", err)
	} else if n > 0 {
		zlog.Info().Msgf("Pruned resolution cache: removed=%d", n)
	}
	return resolver.NewCached(router, store), finder, closeQuietly(store), nil
}

func closeQuietly(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			zlog.Warn().Msgf("Failed to close: %v", err)
		}
	}
}

// filterSettings converts the configured filters.
func filterSettings(cfg *config.Config) map[string]filter.Settings {
	settings := make(map[string]filter.Settings, len(cfg.Filters))
	for name, fc := range cfg.Filters {
		settings[name] = filter.Settings{Enabled: fc.Enabled, Settings: fc.Settings}
	}
	return settings
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	registry := filter.GetRegistered()
	for _, name := range filter.Names() {
		f := registry[name](nil)
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// validateFilterConfig rejects unknown filters and invalid settings.
func validateFilterConfig(settings map[string]filter.Settings) error {
	registry := filter.GetRegistered()

	for name, s := range settings {
		factory, exists := registry[name]
		if !exists {
			return errors.Newf("unknown filter %q", name)
		}
		if !s.Enabled {
			continue
		}
		if err := factory(nil).ValidateConfig(s.Settings); err != nil {
			return errors.Wrapf(err, "filter %s", name)
		}
	}

	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
