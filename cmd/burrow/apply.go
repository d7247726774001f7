package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/containerd/errdefs"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply burrow resources from a YAML file. Existing resources are
updated in place; missing ones are created.

Examples:
  # Apply a worker definition
  burrow apply -f worker.yaml

  # Apply a multi-document file with tenants, workers and templates
  burrow apply -f platform.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// manifest is one YAML document: a kind selector plus a spec decoded into
// the kind's own type.
type manifest struct {
	APIVersion string    `yaml:"apiVersion"`
	Kind       string    `yaml:"kind"`
	Spec       yaml.Node `yaml:"spec"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	c := apiClient(cmd)
	defer c.Close()

	dec := yaml.NewDecoder(f)
	for i := 0; ; i++ {
		var m manifest
		if err := dec.Decode(&m); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to parse document %d: %w", i+1, err)
		}

		var applyErr error
		switch m.Kind {
		case "Tenant":
			applyErr = applyTenant(cmd, c, &m)
		case "Worker":
			applyErr = applyWorker(cmd, c, &m)
		case "Template":
			applyErr = applyTemplate(cmd, c, &m)
		case "Defaults":
			applyErr = applyDefaults(cmd, c, &m)
		default:
			applyErr = fmt.Errorf("unsupported resource kind: %s", m.Kind)
		}
		if applyErr != nil {
			return fmt.Errorf("document %d: %w", i+1, applyErr)
		}
	}
}

func applyTenant(cmd *cobra.Command, c *client.Client, m *manifest) error {
	var tenant types.Tenant
	if err := m.Spec.Decode(&tenant); err != nil {
		return fmt.Errorf("failed to parse tenant spec: %w", err)
	}

	_, err := c.GetTenant(cmd.Context(), tenant.ID)
	switch {
	case err == nil:
		if _, err := c.UpdateTenant(cmd.Context(), tenant.ID, &tenant.ConfigBundle); err != nil {
			return err
		}
		fmt.Printf("✓ Tenant updated: %s\n", tenant.ID)
	case errdefs.IsNotFound(err):
		if _, err := c.CreateTenant(cmd.Context(), &tenant); err != nil {
			return err
		}
		fmt.Printf("✓ Tenant created: %s\n", tenant.ID)
	default:
		return err
	}
	return nil
}

func applyWorker(cmd *cobra.Command, c *client.Client, m *manifest) error {
	var worker types.Worker
	if err := m.Spec.Decode(&worker); err != nil {
		return fmt.Errorf("failed to parse worker spec: %w", err)
	}
	if worker.TenantID == "" {
		return fmt.Errorf("worker %q needs a tenantId", worker.ID)
	}

	_, err := c.GetWorker(cmd.Context(), worker.TenantID, worker.ID)
	switch {
	case err == nil:
		updated, err := c.UpdateWorker(cmd.Context(), worker.TenantID, worker.ID, &types.WorkerUpdate{
			ConfigBundle: worker.ConfigBundle,
			Files:        worker.Files,
			Hostnames:    worker.Hostnames,
			Build:        &worker.Build,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Worker updated: %s/%s (version %d)\n", worker.TenantID, worker.ID, updated.Version)
	case errdefs.IsNotFound(err):
		created, err := c.CreateWorker(cmd.Context(), worker.TenantID, &worker)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Worker deployed: %s/%s (version %d)\n", worker.TenantID, worker.ID, created.Version)
	default:
		return err
	}
	return nil
}

func applyTemplate(cmd *cobra.Command, c *client.Client, m *manifest) error {
	var tpl types.Template
	if err := m.Spec.Decode(&tpl); err != nil {
		return fmt.Errorf("failed to parse template spec: %w", err)
	}

	_, err := c.GetTemplate(cmd.Context(), tpl.ID)
	switch {
	case err == nil:
		if _, err := c.UpdateTemplate(cmd.Context(), tpl.ID, &tpl); err != nil {
			return err
		}
		fmt.Printf("✓ Template updated: %s\n", tpl.ID)
	case errdefs.IsNotFound(err):
		if _, err := c.RegisterTemplate(cmd.Context(), &tpl); err != nil {
			return err
		}
		fmt.Printf("✓ Template registered: %s\n", tpl.ID)
	default:
		return err
	}
	return nil
}

func applyDefaults(cmd *cobra.Command, c *client.Client, m *manifest) error {
	var patch types.ConfigBundle
	if err := m.Spec.Decode(&patch); err != nil {
		return fmt.Errorf("failed to parse defaults spec: %w", err)
	}

	if _, err := c.UpdateDefaults(cmd.Context(), &patch); err != nil {
		return err
	}
	fmt.Println("✓ Defaults updated")
	return nil
}
