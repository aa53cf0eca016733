package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"decisionsupport/internal/app"
	"decisionsupport/internal/config"
	"decisionsupport/internal/db"
	"decisionsupport/internal/domain"
	"decisionsupport/internal/engine/auth"
	"decisionsupport/internal/events"
	"decisionsupport/internal/migrate"
	"decisionsupport/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ds",
	Short: "Decision support CLI",
	Long: `ds stores decision supports, investigations and processes and serves them over HTTP.
- Process: an ordered list of steps with a label.
- Decision support: a record bound to one process; its payload snapshots the process steps at creation.
- Investigation: a free-form record updated in place.
- Files: decision support payloads exported to blob storage (local directory or S3).
- Event log: every save and delete, view with 'ds log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/"+config.FileName+")")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor recorded in the event log")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(supportCmd())
	rootCmd.AddCommand(investigationCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(logCmd())
}

// loadConfig reads the workspace config and applies DS_* environment overrides.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	path := viper.GetString("config")
	if path == "" {
		path = config.Path(workspace)
	}
	cfg, err := config.Load(afero.NewOsFs(), path)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Workspace == "" || cfg.Database.Workspace == "." {
		cfg.Database.Workspace = workspace
	}
	if v := viper.GetString("db-driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v := viper.GetString("db-dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("blob-driver"); v != "" {
		cfg.Blob.Driver = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, cfg.Validate()
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, afero.NewOsFs(), app.NewLogger(cfg.Log, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(events.WithActor(ctx, viper.GetString("actor-id")), a)
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{JWTSecret: a.Config.Auth.JWTSecret, APIKeys: a.Config.Auth.APIKeys}
				if authCfg.JWTSecret == "" && len(authCfg.APIKeys) == 0 {
					return fmt.Errorf("DS_JWT_SECRET or auth.api_keys is required")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Events:   a.Repo,
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   a.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving decision support API", "addr", addr, "base_path", basePath, "docs", "/docs", "metrics", "/metrics")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := migrate.Version(a.DB)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"schema_version": v})
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect workspace configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			path := config.Path(viper.GetString("workspace"))
			if ok, _ := afero.Exists(fs, path); ok {
				return fmt.Errorf("%s already exists", path)
			}
			out, err := config.Default().ToYAML()
			if err != nil {
				return err
			}
			if err := afero.WriteFile(fs, path, out, 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := server.SignToken(cfg.Auth.JWTSecret, subject, perms, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&perms, "permission", []string{auth.PermissionAccessContent}, "granted permissions")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "API key helpers"}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash <key>",
		Short: "Print the key_hash to configure for an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(auth.HashKey(args[0]))
			return nil
		},
	})
	return cmd
}

func supportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "support", Short: "Manage decision supports"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List decision supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListDecisionSupport(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Label", "Completed", "Revision", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.EntityID, s.Label, s.IsCompleted, s.RevisionID, s.UpdatedTime})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Print a decision support payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				payload, err := a.Engine.GetDecisionSupport(ctx, args[0])
				if err != nil {
					return err
				}
				return printRaw(payload)
			})
		},
	})
	var createData string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a decision support from a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(createData)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ds, err := a.Engine.CreateDecisionSupport(ctx, data)
				if err != nil {
					return err
				}
				return printRecord(ds)
			})
		},
	}
	dataFlag(create, &createData)
	cmd.AddCommand(create)
	var updateData string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a decision support payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(updateData)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ds, err := a.Engine.UpdateDecisionSupport(ctx, args[0], data)
				if err != nil {
					return err
				}
				return printRecord(ds)
			})
		},
	}
	dataFlag(update, &updateData)
	cmd.AddCommand(update)
	cmd.AddCommand(&cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a decision support",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.ArchiveDecisionSupport(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("archived", args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(supportFileCmd())
	return cmd
}

func supportFileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "file", Short: "Exported decision support files"}
	cmd.AddCommand(&cobra.Command{
		Use:   "export <id>",
		Short: "Export a decision support payload to blob storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f, err := a.Engine.ExportDecisionSupportFile(ctx, args[0])
				if err != nil {
					return err
				}
				return printFile(f)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Print an exported decision support file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f, err := a.Engine.GetDecisionSupportFile(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(f)
				}
				return printRaw(string(f.Content))
			})
		},
	})
	return cmd
}

func investigationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "investigation", Short: "Manage investigations"}
	var createData string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an investigation",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(createData)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				inv, err := a.Engine.CreateInvestigation(ctx, data)
				if err != nil {
					return err
				}
				return printRecord(inv)
			})
		},
	}
	dataFlag(create, &createData)
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Print an investigation payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				payload, err := a.Engine.GetInvestigation(ctx, args[0])
				if err != nil {
					return err
				}
				return printRaw(payload)
			})
		},
	})
	var updateData string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace an investigation payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(updateData)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				inv, err := a.Engine.UpdateInvestigation(ctx, args[0], data)
				if err != nil {
					return err
				}
				return printRecord(inv)
			})
		},
	}
	dataFlag(update, &updateData)
	cmd.AddCommand(update)
	return cmd
}

func processCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "process", Short: "Manage processes"}
	var createData string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(createData)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProcess(ctx, data)
				if err != nil {
					return err
				}
				return printRecord(p)
			})
		},
	}
	dataFlag(create, &createData)
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetProcess(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(p)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListProcesses(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Label", "Steps", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Label, p.JSONString, p.UpdatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every entity save and delete, with the actor that made it.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evs, err := a.Repo.LatestEvents(ctx, n, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Kind", "Entity", "Actor"})
				for _, ev := range evs {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (decision_support, investigation, process)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func dataFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "data", "d", "", "JSON object, @file to read a file, or - for stdin")
	_ = cmd.MarkFlagRequired("data")
}

func readData(arg string) (map[string]any, error) {
	var raw []byte
	switch {
	case arg == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		raw = b
	case strings.HasPrefix(arg, "@"):
		b, err := afero.ReadFile(afero.NewOsFs(), strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		raw = []byte(arg)
	}
	var data map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	return data, nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func printRecord(e domain.Entity) error {
	if viper.GetBool("json") {
		return printJSON(e)
	}
	r := e.Base()
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", r.ID},
		{"Type", e.EntityType()},
		{"Label", r.Label},
		{"Completed", r.IsCompleted},
		{"Revision", r.RevisionID},
		{"Updated", r.UpdatedAt},
	})
	fmt.Println(tw.Render())
	return nil
}

func printFile(f domain.DecisionSupportFile) error {
	if viper.GetBool("json") {
		return printJSON(f)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"Entity", f.EntityID},
		{"Key", f.Key},
		{"Size", f.Size},
		{"ETag", f.ETag},
		{"Updated", f.UpdatedAt},
	})
	fmt.Println(tw.Render())
	return nil
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

// printRaw pretty-prints a stored payload, falling back to the raw text.
func printRaw(payload string) error {
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		fmt.Println(payload)
		return nil
	}
	return printJSON(v)
}
