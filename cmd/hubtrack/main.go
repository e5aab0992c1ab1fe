package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"hubtrack/internal/app"
	"hubtrack/internal/config"
	"hubtrack/internal/db"
	hubtracksdk "hubtrack/sdk/go"
)

const defaultAPIURL = "http://127.0.0.1:8080/api"

var rootCmd = &cobra.Command{
	Use:   "hubtrack",
	Short: "Hub issue tracker and innovation log",
	Long: `hubtrack runs the team issue board and innovation log.
- Issues: reported problems that move Open -> In Progress -> Resolved on a Kanban board.
  Only the reporter or an assignee may drag a card; join an issue to become an assignee.
- Innovations: ideas with a problem, a current solution (with history), participants and comments.
- Authorized users: the email allow-list in hubtrack.yml may edit, archive and delete records.
- Notifications: qualifying changes are posted to the chat webhook (HUBTRACK_NOTIFY_WEBHOOK_URL).
Run 'hubtrack serve' for the API, then 'hubtrack login' and 'hubtrack board'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if err := godotenv.Load(envPath(workspace)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envPath(workspace), err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HUBTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("api-url", defaultAPIURL, "API base URL (HUBTRACK_API_URL)")
	rootCmd.PersistentFlags().String("token", "", "identity token (HUBTRACK_TOKEN)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: console or json")
	for _, name := range []string{"workspace", "json", "api-url", "token", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(innovationCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(notifyCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	var devLogin, secureCookies bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the JSON API, the /subscribe WebSocket stream and the /notify endpoint. Secrets come from HUBTRACK_JWT_SECRET, HUBTRACK_SESSION_SECRET and HUBTRACK_NOTIFY_WEBHOOK_URL.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if devLogin {
				cfg.Auth.DevLogin = true
			}
			ctx := cmd.Context()
			a, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := a.Handler(ctx, secureCookies)
			if err != nil {
				return err
			}

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("shutdown", zap.Error(err))
				}
			}()
			logger.Info("serving hubtrack API",
				zap.String("addr", cfg.Server.Addr),
				zap.String("base_path", cfg.Server.BasePath),
				zap.Bool("dev_login", cfg.Auth.DevLogin),
				zap.Int("authorized_emails", len(cfg.Authorization.Emails)),
			)
			fmt.Printf("Serving hubtrack API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (needs HUBTRACK_JWT_SECRET)")
	cmd.Flags().BoolVar(&secureCookies, "secure-cookies", false, "mark session cookies Secure")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage hubtrack.yml",
		Long:  "hubtrack.yml holds the server address, identity settings, the authorized email allow-list and notification settings. Secrets are read from the environment or the workspace .env file.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default hubtrack.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			shown.Auth.JWTSecret = redact(shown.Auth.JWTSecret)
			shown.Auth.SessionSecret = redact(shown.Auth.SessionSecret)
			shown.Notify.WebhookURL = redact(shown.Notify.WebhookURL)
			if viper.GetBool("json") {
				return printJSON(shown)
			}
			out, err := yaml.Marshal(&shown)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate hubtrack.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	var uid, name, email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Mint a development token and save it to .env",
		Long:  "Calls POST /auth/dev/login on a server started with --dev-login and stores the token as HUBTRACK_TOKEN in the workspace .env file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := hubtracksdk.New(viper.GetString("api-url"))
			token, err := c.DevLogin(cmd.Context(), principalFromFlags(uid, name, email))
			if err != nil {
				return err
			}
			path := envPath(viper.GetString("workspace"))
			if err := setEnvValue(path, "HUBTRACK_TOKEN", token); err != nil {
				return err
			}
			c.BearerToken = token
			me, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("signed in as %s (token saved to %s)\n", me.Label, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	_ = cmd.MarkFlagRequired("uid")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setEnvValue(envPath(viper.GetString("workspace")), "HUBTRACK_TOKEN", "")
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and whether they are authorized",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				me, err := c.Me(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(me)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Activity log",
		Long:  "Every change to issues, innovations and comments is recorded with its actor.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				events, err := c.Events(ctx, entityID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(rowOf("Time", "Type", "Entity", "Actor", "Payload"))
				for _, evt := range events {
					payload, _ := json.Marshal(evt.Payload)
					tw.AppendRow(rowOf(evt.Timestamp.Local().Format(time.DateTime), evt.Type, shortID(evt.EntityID), evt.ActorName, string(payload)))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func notifyCmd() *cobra.Command {
	var action, user, details, emoji string
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Post a message through the server's notification endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := hubtracksdk.New(viper.GetString("api-url"))
			return c.Notify(cmd.Context(), notifyMessage(action, user, details, emoji))
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action text")
	cmd.Flags().StringVar(&user, "user", "", "user name")
	cmd.Flags().StringVar(&details, "details", "", "details")
	cmd.Flags().StringVar(&emoji, "emoji", "", "leading emoji")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// --- helpers ---

func newLogger() (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(viper.GetString("log-format"), "json") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// loadConfig reads hubtrack.yml (or defaults) and applies secrets from the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("session-secret"); v != "" {
		cfg.Auth.SessionSecret = v
	}
	if v := viper.GetString("notify-webhook-url"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	return cfg, cfg.Validate()
}

func withClient(ctx context.Context, fn func(context.Context, *hubtracksdk.Client) error) error {
	c := hubtracksdk.New(viper.GetString("api-url"))
	c.BearerToken = viper.GetString("token")
	if c.BearerToken == "" {
		return errors.New("not signed in; run hubtrack login or set HUBTRACK_TOKEN")
	}
	return fn(ctx, c)
}

func envPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".env")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
