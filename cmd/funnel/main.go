package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/talentlab/funnel/internal/handler"
	appI18n "github.com/talentlab/funnel/internal/i18n"
	"github.com/talentlab/funnel/internal/llm"
	"github.com/talentlab/funnel/internal/mailer"
	"github.com/talentlab/funnel/internal/model"
	"github.com/talentlab/funnel/internal/store"
	"github.com/talentlab/funnel/internal/transcript"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "funnel",
		Short: "Bootcamp selection pipeline: quizzes, video contest, winner notification",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `funnel --addr ...` still works.
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
	f.String("db", "funnel.db", "SQLite database path")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("transcript-url", "http://localhost:8000", "Transcript service base URL")
	f.String("resend-api-key", "", "Resend API key (empty disables email delivery)")
	f.String("from-email", "noreply@localhost", "Sender address for outbound email")
	f.String("base-url", "http://localhost:8080", "Public base URL used in emailed links")
	f.StringP("lang", "l", "en", "Notification language (en, ru)")
	f.String("video-topic", "How I would use AI in my studies", "Topic students must cover in contest videos")
	f.Int("quiz-top", 5, "Students selected from each quiz for the video stage")
	f.Float64("video-proportion", 0.05, "Proportion of completed videos that advances")
	f.Int("video-min", 1, "Video-stage cohort floor")
	f.Int("video-max", 10, "Video-stage cohort cap (0 = no cap)")
	f.Int("winners", 2, "Final winner count")
	f.Int("concurrency", 3, "Concurrent video evaluations")
	f.Int("call-timeout", 60, "Per-call timeout for LLM, transcript and mail requests (seconds)")
	f.String("admin-email", "admin@localhost", "Initial admin email")
	f.String("admin-password", "", "Initial admin password (or set FUNNEL_ADMIN_PASSWORD)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export quiz results or the final ranking as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "funnel.db", "SQLite database path")
	f.Int64("quiz-id", 0, "Quiz to export results for (0 = export the final video ranking)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
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

	v.SetEnvPrefix("FUNNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("funnel")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/funnel")
	v.AddConfigPath("/etc/funnel")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-email"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// Sweep stale sessions at startup and then hourly.
	if err := db.CleanupExpiredSessions(); err != nil {
		slog.Warn("session cleanup failed", "error", err)
	}
	go func() {
		for range time.Tick(time.Hour) {
			if err := db.CleanupExpiredSessions(); err != nil {
				slog.Warn("session cleanup failed", "error", err)
			}
		}
	}()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	cfg := model.Config{
		BaseURL:         strings.TrimRight(v.GetString("base-url"), "/"),
		Lang:            lang,
		VideoTopic:      v.GetString("video-topic"),
		QuizTopCount:    v.GetInt("quiz-top"),
		VideoProportion: v.GetFloat64("video-proportion"),
		VideoMinCount:   v.GetInt("video-min"),
		VideoMaxCount:   v.GetInt("video-max"),
		WinnerCount:     v.GetInt("winners"),
		EvalConcurrency: v.GetInt("concurrency"),
		CallTimeoutSecs: v.GetInt("call-timeout"),
		SecureCookies:   v.GetBool("secure-cookies"),
	}

	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
	)
	if err := llmClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	transcripts := transcript.New(v.GetString("transcript-url"), cfg.CallTimeout())
	sender := mailer.NewSender(v.GetString("resend-api-key"), v.GetString("from-email"), cfg.CallTimeout())

	h := handler.New(db, llmClient, transcripts, sender, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"transcript_url", v.GetString("transcript-url"),
		"lang", lang,
		"quiz_top", cfg.QuizTopCount,
		"video_proportion", cfg.VideoProportion,
		"winners", cfg.WinnerCount,
		"concurrency", cfg.EvalConcurrency,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var data []byte
	if quizID := v.GetInt64("quiz-id"); quizID > 0 {
		results, err := db.QuizResults(quizID)
		if err != nil {
			return fmt.Errorf("quiz results: %w", err)
		}
		data, err = json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
	} else {
		ranked, err := db.ListRanked()
		if err != nil {
			return fmt.Errorf("final ranking: %w", err)
		}
		data, err = json.MarshalIndent(ranked, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
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

func seedAdmin(db *store.Store, email, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or FUNNEL_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Email:        email,
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "email", email)
	return nil
}
