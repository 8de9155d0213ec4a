package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/hiretest/internal/exam"
	"github.com/pavelanni/hiretest/internal/handler"
	appI18n "github.com/pavelanni/hiretest/internal/i18n"
	"github.com/pavelanni/hiretest/internal/llm"
	"github.com/pavelanni/hiretest/internal/llm/prompts"
	"github.com/pavelanni/hiretest/internal/model"
	"github.com/pavelanni/hiretest/internal/notify"
	"github.com/pavelanni/hiretest/internal/scheduler"
	"github.com/pavelanni/hiretest/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error loading .env file", "error", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hiretest",
		Short: "Recruitment test generator and evaluator powered by LLMs",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), evaluateCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `hiretest --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addStoreFlags(cmd)
	addLLMFlags(cmd)
	f.StringP("lang", "l", "en", "Default language for messages (en, ru)")
	f.String("jwt-secret", "", "Secret for signing access tokens (random per start if empty)")
	f.Duration("token-ttl", 24*time.Hour, "Access token lifetime")
	f.String("admin-password", "", "Initial admin password (or set HIRETEST_ADMIN_PASSWORD)")
	f.Bool("auto-evaluate", false, "Evaluate submissions as soon as they arrive")
	f.Duration("batch-interval", 0, "Interval for evaluating pending submissions in the background (0 = off)")
	f.String("webhook-url", "", "URL notified when a submission is evaluated")
	f.Duration("webhook-timeout", 10*time.Second, "Timeout for webhook calls")
	f.Bool("secure-headers", true, "Send standard security headers")
	f.Bool("development", false, "Development mode (relaxes security headers)")
	addLogFlags(cmd)
	return cmd
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", "sqlite", "Database driver (sqlite, mongo)")
	f.String("db", "hiretest.db", "SQLite database path or MongoDB URI")
	f.String("mongo-database", "hiretest", "MongoDB database name")
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-provider", "openai", "LLM provider (openai, gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "", "LLM model name (default depends on provider)")
	f.Duration("llm-timeout", 90*time.Second, "Timeout for a single LLM call")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
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

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("HIRETEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("hiretest")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/hiretest")
	v.AddConfigPath("/etc/hiretest")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (store.Store, error) {
	db, err := store.Open(ctx, v.GetString("db-driver"), v.GetString("db"), v.GetString("mongo-database"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// newLLMClient builds the completer for the configured provider.
func newLLMClient(ctx context.Context, v *viper.Viper) (*llm.Client, error) {
	provider := strings.ToLower(strings.TrimSpace(v.GetString("llm-provider")))
	modelName := v.GetString("llm-model")

	var completer llm.Completer
	switch provider {
	case "", "openai":
		if modelName == "" {
			modelName = "llama3.2"
		}
		completer = llm.NewOpenAI(v.GetString("llm-url"), v.GetString("llm-key"), modelName)
	case "gemini":
		g, err := llm.NewGemini(ctx, v.GetString("llm-key"), modelName)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		completer = g
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
	slog.Info("LLM configured", "provider", provider, "model", modelName, "url", v.GetString("llm-url"))
	return llm.New(completer, v.GetDuration("llm-timeout")), nil
}

func promptVariant(v *viper.Viper) prompts.PromptVariant {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		return prompts.PromptStandard
	}
	return prompts.PromptVariant(variant)
}

// newService wires the LLM client, store and optional notifier together.
func newService(ctx context.Context, v *viper.Viper, db store.Store) (*exam.Service, error) {
	client, err := newLLMClient(ctx, v)
	if err != nil {
		return nil, err
	}
	var notifier exam.Notifier
	if url := v.GetString("webhook-url"); url != "" {
		notifier = notify.NewWebhook(url, v.GetDuration("webhook-timeout"))
		slog.Info("webhook notifications enabled", "url", url)
	}
	return exam.NewService(
		db,
		exam.NewBuilder(client),
		exam.NewEvaluator(client, promptVariant(v)),
		notifier,
		v.GetBool("auto-evaluate"),
	), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	svc, err := newService(ctx, v, db)
	if err != nil {
		return err
	}

	secret := []byte(v.GetString("jwt-secret"))
	if len(secret) == 0 {
		slog.Warn("no jwt-secret set, tokens will not survive a restart")
		secret = []byte(rand.Text())
	}
	cfg := model.ServiceConfig{
		AutoEvaluate:  v.GetBool("auto-evaluate"),
		PromptVariant: string(promptVariant(v)),
		SecureHeaders: v.GetBool("secure-headers"),
		Development:   v.GetBool("development"),
		TokenTTL:      v.GetDuration("token-ttl"),
		JWTSecret:     secret,
	}
	h, err := handler.New(db, svc, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	jobs := scheduler.New(svc, db, v.GetDuration("batch-interval"), 0)
	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer jobs.Stop()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("starting server",
		"addr", addr,
		"db_driver", v.GetString("db-driver"),
		"lang", lang,
		"prompt_variant", cfg.PromptVariant,
		"auto_evaluate", cfg.AutoEvaluate,
		"batch_interval", v.GetDuration("batch-interval"),
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func seedAdmin(ctx context.Context, db store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or HIRETEST_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
