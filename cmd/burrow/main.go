package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - multi-tenant platform for dynamic JavaScript workers",
	Long: `Burrow deploys, versions and routes JavaScript workers for many
tenants from a single binary: sources are bundled on deploy, cached by
content fingerprint, and served through version-guarded stubs on a
shared runtime.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("api", "http://localhost:8080", "API server address")

	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(eventsCmd)
}

func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("api")
	return client.New(addr)
}

// parseEnv turns repeated KEY=VALUE flags into a map.
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env %q, expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

// readSourceDir loads every regular file under dir, keyed by its
// slash-separated path relative to dir. Hidden files and node_modules are
// skipped.
func readSourceDir(dir string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files under %s", dir)
	}
	return files, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// Tenant commands
var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create ID",
	Short: "Create a new tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		envPairs, _ := cmd.Flags().GetStringArray("env")
		env, err := parseEnv(envPairs)
		if err != nil {
			return err
		}

		c := apiClient(cmd)
		defer c.Close()

		tenant, err := c.CreateTenant(cmd.Context(), &types.Tenant{
			ID:           args[0],
			ConfigBundle: types.ConfigBundle{Env: env},
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Tenant created: %s\n", tenant.ID)
		return nil
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		defer c.Close()

		cursor := ""
		for {
			tenants, next, err := c.ListTenants(cmd.Context(), storage.ListOptions{Cursor: cursor})
			if err != nil {
				return err
			}
			for _, tenant := range tenants {
				fmt.Printf("%-24s created %s\n", tenant.ID, tenant.CreatedAt.Format("2006-01-02 15:04"))
			}
			if next == "" {
				return nil
			}
			cursor = next
		}
	},
}

var tenantGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		defer c.Close()

		tenant, err := c.GetTenant(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(tenant)
	},
}

var tenantDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a tenant and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		defer c.Close()

		if err := c.DeleteTenant(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Tenant deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	tenantCmd.AddCommand(tenantCreateCmd)
	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantGetCmd)
	tenantCmd.AddCommand(tenantDeleteCmd)

	tenantCreateCmd.Flags().StringArray("env", nil, "Environment variable KEY=VALUE (repeatable)")
}

// Worker commands
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage workers",
}

var workerDeployCmd = &cobra.Command{
	Use:   "deploy ID",
	Short: "Deploy a worker from a source directory",
	Long: `Deploy a worker from a local source directory. If the worker
already exists it is updated in place and its version bumped; otherwise
it is created at version 1.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		dir, _ := cmd.Flags().GetString("dir")
		hostnames, _ := cmd.Flags().GetStringArray("hostname")
		envPairs, _ := cmd.Flags().GetStringArray("env")

		env, err := parseEnv(envPairs)
		if err != nil {
			return err
		}
		files, err := readSourceDir(dir)
		if err != nil {
			return err
		}

		c := apiClient(cmd)
		defer c.Close()

		workerID := args[0]
		existing, err := c.GetWorker(cmd.Context(), tenantID, workerID)
		if err == nil && existing != nil {
			worker, err := c.UpdateWorker(cmd.Context(), tenantID, workerID, &types.WorkerUpdate{
				ConfigBundle: types.ConfigBundle{Env: env},
				Files:        files,
				Hostnames:    hostnames,
			})
			if err != nil {
				return err
			}
			fmt.Printf("✓ Worker updated: %s/%s (version %d)\n", tenantID, workerID, worker.Version)
			return nil
		}

		worker, err := c.CreateWorker(cmd.Context(), tenantID, &types.Worker{
			ID:           workerID,
			ConfigBundle: types.ConfigBundle{Env: env},
			Files:        files,
			Hostnames:    hostnames,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Worker deployed: %s/%s (version %d)\n", tenantID, workerID, worker.Version)
		return nil
	},
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")

		c := apiClient(cmd)
		defer c.Close()

		cursor := ""
		for {
			workers, next, err := c.ListWorkers(cmd.Context(), tenantID, storage.ListOptions{Cursor: cursor})
			if err != nil {
				return err
			}
			for _, worker := range workers {
				hosts := strings.Join(worker.Hostnames, ",")
				fmt.Printf("%-24s v%-4d %s\n", worker.ID, worker.Version, hosts)
			}
			if next == "" {
				return nil
			}
			cursor = next
		}
	},
}

var workerGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")

		c := apiClient(cmd)
		defer c.Close()

		worker, err := c.GetWorker(cmd.Context(), tenantID, args[0])
		if err != nil {
			return err
		}
		return printJSON(worker)
	},
}

var workerDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")

		c := apiClient(cmd)
		defer c.Close()

		if err := c.DeleteWorker(cmd.Context(), tenantID, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Worker deleted: %s/%s\n", tenantID, args[0])
		return nil
	},
}

var workerFetchCmd = &cobra.Command{
	Use:   "fetch ID",
	Short: "Dispatch a request into a deployed worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		method, _ := cmd.Flags().GetString("method")
		path, _ := cmd.Flags().GetString("path")
		body, _ := cmd.Flags().GetString("body")

		c := apiClient(cmd)
		defer c.Close()

		resp, err := c.Fetch(cmd.Context(), tenantID, args[0], &client.FetchRequest{
			Method: method,
			Path:   path,
			Body:   body,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Status: %d\n", resp.Status)
		if resp.WorkerError != "" {
			fmt.Printf("Worker error: %s\n", resp.WorkerError)
		}
		fmt.Println(string(resp.Body))
		return nil
	},
}

func init() {
	workerCmd.AddCommand(workerDeployCmd)
	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerGetCmd)
	workerCmd.AddCommand(workerDeleteCmd)
	workerCmd.AddCommand(workerFetchCmd)

	workerCmd.PersistentFlags().String("tenant", "", "Tenant owning the worker")
	_ = workerCmd.MarkPersistentFlagRequired("tenant")

	workerDeployCmd.Flags().String("dir", "", "Source directory to deploy")
	workerDeployCmd.Flags().StringArray("hostname", nil, "Hostname to claim (repeatable)")
	workerDeployCmd.Flags().StringArray("env", nil, "Environment variable KEY=VALUE (repeatable)")
	_ = workerDeployCmd.MarkFlagRequired("dir")

	workerFetchCmd.Flags().String("method", "GET", "Request method")
	workerFetchCmd.Flags().String("path", "/", "Request path")
	workerFetchCmd.Flags().String("body", "", "Request body")
}

// Template commands
var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage worker templates",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		defer c.Close()

		cursor := ""
		for {
			templates, next, err := c.ListTemplates(cmd.Context(), storage.ListOptions{Cursor: cursor})
			if err != nil {
				return err
			}
			for _, tpl := range templates {
				fmt.Printf("%-24s slots: %s\n", tpl.ID, strings.Join(tpl.SlotNames, ","))
			}
			if next == "" {
				return nil
			}
			cursor = next
		}
	},
}

var templateGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		defer c.Close()

		tpl, err := c.GetTemplate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(tpl)
	},
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a template (workers stamped from it keep running)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		defer c.Close()

		if err := c.DeleteTemplate(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Template deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	templateCmd.AddCommand(templateListCmd)
	templateCmd.AddCommand(templateGetCmd)
	templateCmd.AddCommand(templateDeleteCmd)
}

// Run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bundle and execute a source directory once, without deploying",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		tenantID, _ := cmd.Flags().GetString("tenant")
		path, _ := cmd.Flags().GetString("path")

		files, err := readSourceDir(dir)
		if err != nil {
			return err
		}

		c := apiClient(cmd)
		defer c.Close()

		result, err := c.Run(cmd.Context(), &client.RunRequest{
			Files:    files,
			TenantID: tenantID,
			Request:  &client.FetchRequest{Path: path},
		})
		if err != nil {
			return err
		}

		cached := ""
		if result.Timing.Cached {
			cached = " (cached)"
		}
		fmt.Printf("✓ Built %s%s in %dms, ran in %dms\n",
			result.BuildInfo.Fingerprint, cached, result.Timing.BuildMs, result.Timing.RunMs)
		if result.WorkerError != "" {
			fmt.Printf("Worker error: %s\n", result.WorkerError)
		}
		fmt.Printf("Status: %d\n", result.Response.Status)
		fmt.Println(string(result.Response.Body))
		return nil
	},
}

func init() {
	runCmd.Flags().String("dir", "", "Source directory to run")
	runCmd.Flags().String("tenant", "", "Tenant whose config scopes the run")
	runCmd.Flags().String("path", "/", "Request path")
	_ = runCmd.MarkFlagRequired("dir")
}

// GC command
var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Trigger a storage garbage collection pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		defer c.Close()

		result, err := c.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("✓ Sweep complete: %d expired bundles, %d orphan bundles, %d orphan routes, %d idle stubs\n",
			result.ExpiredBundles, result.OrphanBundles, result.OrphanRoutes, result.EphemeralStubs)
		return nil
	},
}

// Events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream platform lifecycle events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := apiClient(cmd)
		defer c.Close()

		events, err := c.Events(ctx)
		if err != nil {
			return err
		}
		for event := range events {
			subject := event.TenantID
			if event.WorkerID != "" {
				subject = event.TenantID + "/" + event.WorkerID
			}
			fmt.Printf("%s  %-20s %s\n", event.Timestamp.Format("15:04:05"), event.Type, subject)
		}
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("event stream closed by server")
	},
}
