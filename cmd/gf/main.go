package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"geoforge/internal/config"
	"geoforge/internal/core"
	"geoforge/internal/db"
	"geoforge/internal/geometry"
	"geoforge/internal/migrate"
	"geoforge/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gf",
	Short: "Geoforge CLI",
	Long: `Geoforge manages session-scoped spatial datasets: files are ingested
asynchronously, datasets are derived through constructive operations, spatial
filters and joins, and results are exported to common vector formats. All
geometry work runs on a PostGIS backend; Geoforge keeps the session, lineage
and job bookkeeping.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GEOFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("engine-dsn", "", "PostGIS connection string (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("engine-dsn", rootCmd.PersistentFlags().Lookup("engine-dsn"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(docCmd())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if dsn := viper.GetString("engine-dsn"); dsn != "" {
		cfg.Engine.DSN = dsn
	}
	return cfg, cfg.Validate()
}

func withCore(ctx context.Context, fn func(context.Context, *core.Core) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: cfg.Storage.Workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	geo, err := geometry.NewPostgis(ctx, cfg.Engine.DSN, log)
	if err != nil {
		return err
	}
	defer geo.Close()
	return fn(ctx, core.New(conn, geo, cfg, log))
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd.Context(), func(ctx context.Context, c *core.Core) error {
				handler, err := server.New(server.Config{
					Core:        c,
					BasePath:    c.Config.Server.BasePath,
					TokenHeader: c.Config.Server.TokenHeader,
				})
				if err != nil {
					return err
				}
				if addr == "" {
					addr = c.Config.Server.Addr
				}

				runCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				if n, err := c.Requeue(runCtx); err != nil {
					return err
				} else if n > 0 {
					fmt.Printf("Requeued %d pending job(s)\n", n)
				}
				go c.RunExecutor(runCtx)
				go c.RunReaper(runCtx)

				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-runCtx.Done()
					sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer scancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Geoforge API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
					addr, c.Config.Server.BasePath, c.Config.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Expire idle sessions now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd.Context(), func(ctx context.Context, c *core.Core) error {
				n, err := c.ExpireIdle(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"closed": n})
				}
				fmt.Printf("Closed %d idle session(s)\n", n)
				return nil
			})
		},
	}
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List active jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd.Context(), func(ctx context.Context, c *core.Core) error {
				jobs, err := c.ActiveJobs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"Token", "Ticket", "Request", "Initiated", "Session last request"})
				for _, j := range jobs {
					t.AppendRow(table.Row{j.SessionToken, j.Ticket, j.RequestType, j.Initiated, j.SessionLastRequest})
				}
				t.Render()
				return nil
			})
		},
	}
}

func docCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc <path>",
		Short: "Write the OpenAPI document to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd.Context(), func(ctx context.Context, c *core.Core) error {
				handler, err := server.New(server.Config{
					Core:        c,
					BasePath:    c.Config.Server.BasePath,
					TokenHeader: c.Config.Server.TokenHeader,
				})
				if err != nil {
					return err
				}
				req := httptest.NewRequest(http.MethodGet, c.Config.Server.BasePath+"/openapi.json", nil)
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)
				if rec.Code != http.StatusOK {
					return fmt.Errorf("render OpenAPI: status %d", rec.Code)
				}
				body, err := io.ReadAll(rec.Body)
				if err != nil {
					return err
				}
				return os.WriteFile(args[0], body, 0o644)
			})
		},
	}
	return cmd
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
