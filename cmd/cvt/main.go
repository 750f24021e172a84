package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"civitrack/internal/config"
	"civitrack/internal/db"
	"civitrack/internal/domain"
	"civitrack/internal/engine"
	"civitrack/internal/evidence"
	"civitrack/internal/migrate"
	"civitrack/internal/repo"
	"civitrack/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cvt",
	Short: "Civitrack CLI",
	Long: `Civitrack tracks citizen reports and the work orders that resolve them.
- Workspace: your .civitrack directory with the database; civitrack.yml holds numbering and audit settings.
- Report: a citizen complaint at a location; its status mirrors the work order handling it.
- Work order: the unit of municipal work; statuses go Submitted -> Accepted -> In-progress -> Completed/Rejected.
- Sequence number: a human-facing id like PA25-01-00007, allocated once and never reused.
- Evidence: a completion document required before a work order can reach a terminal status.
- Audit trail: append-only diary of every change, view with 'cvt audit list'.`,
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
	viper.SetEnvPrefix("CIVITRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(workOrderCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(staffCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default civitrack.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Manage citizen reports"}
	rep.AddCommand(reportSubmitCmd())
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportCountsCmd())
	return rep
}

func reportSubmitCmd() *cobra.Command {
	var classification, location, measurement, submittedBy, description string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SubmitReport(ctx, domain.Report{
					Classification: classification,
					Location:       location,
					Measurement:    measurement,
					SubmittedBy:    submittedBy,
					Description:    description,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&classification, "classification", "", "complaint classification")
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&measurement, "measurement", "", "measured value")
	cmd.Flags().StringVar(&submittedBy, "submitted-by", "", "submitter name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("classification")
	return cmd
}

func reportListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListReports(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Classification", "Location", "Status", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Classification, p.Location, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func reportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func reportCountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Count reports by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				counts, err := r.CountReportsByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				for status, c := range counts {
					fmt.Printf("%s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func workOrderCmd() *cobra.Command {
	wo := &cobra.Command{
		Use:   "workorder",
		Short: "Manage work orders",
		Long:  "Work orders resolve reports. Assigning a report creates one at Submitted; past Submitted an assignee is required, and Completed/Rejected require an uploaded completion document.",
	}
	wo.AddCommand(workOrderListCmd())
	wo.AddCommand(workOrderShowCmd())
	wo.AddCommand(workOrderAssignCmd())
	wo.AddCommand(workOrderStatusCmd())
	wo.AddCommand(workOrderDeleteCmd())
	return wo
}

func workOrderListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Number", "Report", "Status", "Assignee", "Updated"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.SequenceNumber, w.ReportID, w.Status, stringOrEmpty(w.AssignedTo), w.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workOrderShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workOrderAssignCmd() *cobra.Command {
	var reportID, assignee string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Create a work order for a report, or change its assignee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateOrAssign(ctx, engine.AssignOptions{
					ReportID:   reportID,
					AssigneeID: assignee,
					ActorID:    viper.GetString("actor-id"),
					Origin:     "cli",
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&reportID, "report", "", "report id")
	cmd.Flags().StringVar(&assignee, "assignee", "", "staff id to assign")
	_ = cmd.MarkFlagRequired("report")
	return cmd
}

func workOrderStatusCmd() *cobra.Command {
	var status, evidencePath string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Change a work order's status",
		Long:  "Terminal statuses (Completed, Rejected) require --evidence. A status of Submitted deletes the work order and resets its report.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.UpdateOptions{
					ID:      args[0],
					Status:  status,
					ActorID: viper.GetString("actor-id"),
					Origin:  "cli",
				}
				if evidencePath != "" {
					f, err := os.Open(evidencePath)
					if err != nil {
						return err
					}
					defer f.Close()
					opts.Evidence = &engine.Upload{Content: f, OriginalName: filepath.Base(evidencePath)}
				}
				w, err := e.Update(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	cmd.Flags().StringVar(&evidencePath, "evidence", "", "path to completion document")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func workOrderDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a work order and reset its report to Submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, err := e.Delete(ctx, args[0], viper.GetString("actor-id"), "cli")
				return err
			})
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	aud := &cobra.Command{Use: "audit", Short: "Inspect the audit trail"}
	aud.AddCommand(auditListCmd())
	aud.AddCommand(auditPurgeCmd())
	return aud
}

func auditListCmd() *cobra.Command {
	var entityType, entityID, actorID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAuditEntries(ctx, repo.AuditFilters{
					EntityType: entityType,
					EntityID:   entityID,
					ActorID:    actorID,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Actor", "Entity", "Action", "Old", "New"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.RecordedAt, a.ActorName, a.EntityID, a.Action, stringOrEmpty(a.OldValue), stringOrEmpty(a.NewValue)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id filter")
	cmd.Flags().IntVar(&limit, "n", 20, "number of entries")
	return cmd
}

func auditPurgeCmd() *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete audit entries older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff, err := time.Parse(time.RFC3339, before)
			if err != nil {
				return fmt.Errorf("--before must be an RFC 3339 timestamp: %w", err)
			}
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			actorID := viper.GetString("actor-id")
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				member, err := r.GetStaff(ctx, actorID)
				if err != nil || !cfg.CanPurge(member.Position) {
					return fmt.Errorf("actor %s is not authorized to purge the audit trail", actorID)
				}
				deleted, err := r.PurgeAuditEntriesBefore(ctx, cutoff.UTC().Format(time.RFC3339Nano))
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d entries before %s\n", deleted, before)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "RFC 3339 cutoff")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}

func staffCmd() *cobra.Command {
	st := &cobra.Command{Use: "staff", Short: "Manage staff"}
	st.AddCommand(staffAddCmd())
	st.AddCommand(staffListCmd())
	return st
}

func staffAddCmd() *cobra.Command {
	var id, name, position string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.New().String()
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s := domain.Staff{ID: id, Name: name, Position: position}
				if err := r.InsertStaff(ctx, s); err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "staff id (random UUID if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&position, "position", "", "position, e.g. Admin or Inspector")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func staffListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List staff",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListStaff(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Position", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Position, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyRevokeCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			secret := uuid.New().String()
			key := domain.APIKey{
				ID:      uuid.New().String(),
				ActorID: actorID,
				Name:    name,
				KeyHash: repo.HashAPIKey(secret),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				// The secret is only shown once; the database keeps a hash.
				fmt.Printf("API key %s created for %s\nSecret: %s\n", key.ID, actorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			e, err := openEngine(workspace)
			if err != nil {
				return err
			}
			defer e.DB.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CIVITRACK_JWT_SECRET"),
				AllowLegacyActorHeader: os.Getenv("CIVITRACK_ALLOW_LEGACY_ACTOR_HEADER") == "1",
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CIVITRACK_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Civitrack API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func openEngine(workspace string) (engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return engine.Engine{}, err
	}
	store, err := evidence.NewFSStore(filepath.Join(workspace, cfg.Evidence.Dir))
	if err != nil {
		conn.Close()
		return engine.Engine{}, err
	}
	return engine.New(conn, cfg, store), nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, err := openEngine(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer e.DB.Close()
	// Bootstrap the local actor so audit entries resolve to a name.
	if actor := viper.GetString("actor-id"); actor != "" {
		if err := e.Repo.EnsureStaff(ctx, actor, actor, ""); err != nil {
			return err
		}
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
