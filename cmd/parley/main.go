package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/parley/internal/events"
	"github.com/pavelanni/parley/internal/handler"
	appI18n "github.com/pavelanni/parley/internal/i18n"
	"github.com/pavelanni/parley/internal/llm"
	"github.com/pavelanni/parley/internal/model"
	"github.com/pavelanni/parley/internal/report"
	"github.com/pavelanni/parley/internal/scenario"
	"github.com/pavelanni/parley/internal/scoring"
	"github.com/pavelanni/parley/internal/session"
	"github.com/pavelanni/parley/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "parley",
		Short: "Social conversation rehearsal with an AI partner",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), scenariosCmd(), userCmd(), reportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `parley --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP practice server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "parley.db", "SQLite database path")
	f.StringSliceP("scenarios", "s", nil, "Extra scenario directories (repeatable)")
	f.String("llm-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for LLM (or set PARLEY_LLM_KEY)")
	f.String("llm-model", "gpt-4o", "Chat model name")
	f.String("stt-model", "whisper-1", "Speech-to-text model name")
	f.String("tts-model", "tts-1", "Text-to-speech model name")
	f.String("tts-voice", "alloy", "Text-to-speech voice")
	f.Bool("voice", true, "Synthesize partner replies")
	f.Int("audio-cache", llm.DefaultCacheSize, "Number of synthesized clips kept in memory")
	f.Bool("skip-llm-check", false, "Do not ping the LLM endpoint at startup")
	f.StringP("lang", "l", "en", "Report language (en, ru)")
	f.Int("recent-limit", 20, "Sessions returned by GET /sessions")
	f.Int("analytics-days", 30, "Default analytics window in days")
	f.Int64("max-audio-bytes", 10<<20, "Upload limit for recorded turns")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Bool("open-signup", false, "Allow self-registration via POST /users")
	f.String("redis-url", "", "Publish achievements to this Redis server (redis://host:port/db)")
	f.String("redis-stream", events.DefaultStream, "Redis stream for achievements")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export users and session records as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "parley.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func scenariosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Inspect scenario scripts",
	}

	list := &cobra.Command{
		Use:   "list [dirs...]",
		Short: "List built-in scenarios plus any in the given directories",
		RunE:  runScenariosList,
	}
	addLogFlags(list)

	validate := &cobra.Command{
		Use:   "validate <dirs...>",
		Short: "Check scenario files for structural errors",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScenariosValidate,
	}
	addLogFlags(validate)

	cmd.AddCommand(list, validate)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user account",
		RunE:  runUserAdd,
	}
	f := add.Flags()
	f.String("db", "parley.db", "SQLite database path")
	f.String("email", "", "Login email (required)")
	f.String("name", "", "Display name")
	f.String("password", "", "Password (or set PARLEY_PASSWORD)")
	addLogFlags(add)
	_ = add.MarkFlagRequired("email")

	cmd.AddCommand(add)
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the report of a stored session",
		RunE:  runReport,
	}
	f := cmd.Flags()
	f.String("db", "parley.db", "SQLite database path")
	f.String("session", "", "Session id (required)")
	f.StringP("lang", "l", "en", "Report language (en, ru)")
	f.StringSliceP("scenarios", "s", nil, "Extra scenario directories (repeatable)")
	f.Bool("transcript", false, "Include the conversation transcript")
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("parley")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/parley")
	v.AddConfigPath("/etc/parley")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// loadCatalog returns the built-in scenarios plus those found in dirs.
func loadCatalog(dirs []string) (*scenario.Catalog, error) {
	catalog, err := scenario.Default()
	if err != nil {
		return nil, fmt.Errorf("load built-in scenarios: %w", err)
	}
	if len(dirs) > 0 {
		if err := catalog.RegisterDirs(dirs...); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	catalog, err := loadCatalog(v.GetStringSlice("scenarios"))
	if err != nil {
		return fmt.Errorf("load scenarios: %w", err)
	}

	llmClient := llm.New(llm.Config{
		BaseURL:   v.GetString("llm-url"),
		APIKey:    v.GetString("llm-key"),
		Model:     v.GetString("llm-model"),
		STTModel:  v.GetString("stt-model"),
		TTSModel:  v.GetString("tts-model"),
		Voice:     v.GetString("tts-voice"),
		CacheSize: v.GetInt("audio-cache"),
	})
	if !v.GetBool("skip-llm-check") {
		if err := llmClient.Ping(ctx); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	var publisher scoring.Publisher = events.LogPublisher{}
	if url := v.GetString("redis-url"); url != "" {
		rp, err := events.NewRedisPublisher(ctx, url, v.GetString("redis-stream"))
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rp.Close()
		publisher = rp
		slog.Info("publishing achievements to redis", "stream", v.GetString("redis-stream"))
	}

	deps := session.Deps{
		Transcriber: llmClient,
		Responder:   llmClient,
		Store:       db,
		Publisher:   publisher,
	}
	if v.GetBool("voice") {
		deps.Synthesizer = llmClient
	}
	coaches := session.NewRegistry(deps)
	defer coaches.Close()

	h := handler.New(db, coaches, catalog, llmClient.Cache(), model.ServerConfig{
		Lang:          lang,
		RecentLimit:   v.GetInt("recent-limit"),
		AnalyticsDays: v.GetInt("analytics-days"),
		MaxAudioBytes: v.GetInt64("max-audio-bytes"),
		SecureCookies: v.GetBool("secure-cookies"),
		OpenSignup:    v.GetBool("open-signup"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	go cleanupAuthSessions(ctx, db)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"scenarios", catalog.Len(),
		"voice", v.GetBool("voice"),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func cleanupAuthSessions(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.PruneExpiredTokens(ctx)
			if err != nil {
				slog.Warn("token cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned expired tokens", "count", n)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func runScenariosList(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	catalog, err := loadCatalog(args)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), renderScenarioList(catalog.List()))
	return nil
}

func runScenariosValidate(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	out := cmd.OutOrStdout()
	failed := 0
	for _, dir := range args {
		scripts, err := scenario.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("load %s: %w", dir, err)
		}
		for _, s := range scripts {
			if err := scenario.Validate(s); err != nil {
				failed++
				fmt.Fprintf(out, "%s %s: %v\n", failStyle.Render("FAIL"), s.ID, err)
				continue
			}
			fmt.Fprintf(out, "%s %s (%d nodes)\n", okStyle.Render("ok  "), s.ID, len(s.Nodes))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d invalid scenario(s)", failed)
	}
	return nil
}

func runUserAdd(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	password := v.GetString("password")
	if len(password) < handler.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters: set --password or PARLEY_PASSWORD", handler.MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	email := strings.TrimSpace(v.GetString("email"))
	name := v.GetString("name")
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	id, err := db.CreateUser(cmd.Context(), model.UserProfile{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runReport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := appI18n.ForLang(cmd.Context(), lang)
	rec, err := db.GetSessionRecord(ctx, v.GetString("session"))
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("session %s: %w", v.GetString("session"), model.ErrNotFound)
	}

	title := rec.ScenarioID
	if catalog, err := loadCatalog(v.GetStringSlice("scenarios")); err == nil {
		if s, ok := catalog.Get(rec.ScenarioID); ok {
			title = s.Title
		}
	} else {
		slog.Warn("scenario titles unavailable", "error", err)
	}

	var messages []model.ConversationMessage
	if v.GetBool("transcript") {
		messages = rec.Messages
	}
	fmt.Fprint(cmd.OutOrStdout(), renderReport(ctx, report.Generate(*rec), title, messages))
	return nil
}
