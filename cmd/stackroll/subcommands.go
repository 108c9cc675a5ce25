package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/stackroll/internal/core"
	prov "github.com/3cpo-dev/stackroll/internal/providers"
	"github.com/3cpo-dev/stackroll/internal/providers/amazon"
	"github.com/3cpo-dev/stackroll/internal/remote"
	"github.com/3cpo-dev/stackroll/internal/telemetry"
	"github.com/3cpo-dev/stackroll/pkg/api"
)

func loadConfig(cmd *cobra.Command) (prov.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return core.LoadConfig(cfgPath)
}

// Resolve the orchestrator and everything behind it. The returned cleanup
// flushes metrics and closes the history store.
func resolveOrchestrator(cmd *cobra.Command) (*core.Orchestrator, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	clients, err := amazon.New(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	dialer, err := remote.NewSSHDialer(remote.SSHOptions{
		User:       cfg.SSH.User,
		Port:       cfg.SSH.Port,
		KeyPath:    cfg.SSH.KeyPath,
		KnownHosts: cfg.SSH.KnownHosts,
		Timeout:    time.Duration(cfg.SSH.TimeoutSeconds) * time.Second,
		Retries:    cfg.SSH.Retries,
	})
	if err != nil {
		return nil, nil, err
	}
	metrics := telemetry.NewCollector(cfg.Telemetry.Enabled)
	deps := core.Deps{
		Stacks:        clients.CloudFormation,
		Groups:        clients.AutoScaling,
		Instances:     clients.EC2,
		Dialer:        dialer,
		LoadBalancers: clients.ELB,
		Metrics:       metrics,
	}
	var store *core.Store
	if !cfg.History.Disabled {
		store, err = core.NewStore(cfg.History.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.History.Path).Msg("History disabled")
		} else {
			deps.History = store
		}
	}
	commands := cfg.Deploy.Commands
	if len(commands) == 0 {
		commands = core.DefaultDeployCommands(cfg.Stack.Name, cfg.Deploy.LaunchResource, cfg.Deploy.Service, cfg.Deploy.HealthURL)
	}
	o := core.NewOrchestrator(core.Options{
		StackName:      cfg.Stack.Name,
		TemplateBody:   cfg.Stack.TemplateBody,
		Region:         clients.Region,
		LoadBalancer:   cfg.Stack.LoadBalancer,
		Operator:       cfg.Deploy.Operator,
		DeployCommands: commands,
	}, deps)
	cleanup := func() {
		metrics.Flush()
		if store != nil {
			_ = store.Close()
		}
	}
	return o, cleanup, nil
}

// parseParams turns K=V pairs into a parameter map.
func parseParams(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid --param value: %s", p)
		}
		out[strings.TrimSpace(parts[0])] = parts[1]
	}
	return out, nil
}

// formatExecResult renders one instance's outcome on a single line.
func formatExecResult(r api.ExecResult) string {
	if r.Err != nil {
		return fmt.Sprintf("%s: error: %v", r.InstanceID, r.Err)
	}
	line := fmt.Sprintf("%s:'%s' (exit %d)", r.InstanceID, strings.TrimSpace(r.Stdout), r.ExitStatus)
	if stderr := strings.TrimSpace(r.Stderr); stderr != "" {
		line += fmt.Sprintf(" ERR:'%s'", stderr)
	}
	return line
}

// Update stack parameters
func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update stack parameters and stamp a new deploy marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, _ := cmd.Flags().GetStringArray("param")
			params, err := parseParams(pairs)
			if err != nil {
				return err
			}
			o, cleanup, err := resolveOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return o.UpdateStack(cmd.Context(), params)
		},
	}
	cmd.Flags().StringArray("param", nil, "stack parameter as KEY=VALUE (repeatable)")
	return cmd
}

// Redeploy the current build
func newRedeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redeploy",
		Short: "Re-run cfn-init and restart the service on every running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, cleanup, err := resolveOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return o.RedeployCurrentBinary(cmd.Context())
		},
	}
}

// Run a command on the fleet
func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command>",
		Short: "Run a shell command on every running instance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, cleanup, err := resolveOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			results, err := o.RunOnFleet(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				fmt.Println(formatExecResult(r))
				if r.Err != nil || r.ExitStatus != 0 {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("command failed on %d of %d instances", failed, len(results))
			}
			return nil
		},
	}
}

// Change the fleet's instance type
func newResizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resize <instance-type>",
		Short: "Change the instance type; the provider rolls instances in the background",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, cleanup, err := resolveOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return o.ResizeFleet(cmd.Context(), args[0])
		},
	}
}

// Show stack status
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stack status, parameters and autoscaling group",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, cleanup, err := resolveOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			sum, err := o.Describe(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("stack:\t%s\nstatus:\t%s\nasg:\t%s\n", sum.Name, sum.Status, sum.AutoscalingGroupID)
			keys := make([]string, 0, len(sum.Parameters))
			for k := range sum.Parameters {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("  %s=%s\n", k, sum.Parameters[k])
			}
			return nil
		},
	}
}

// Inspect the load balancer
func newLBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lb",
		Short: "Show the load balancer's instance health and attributes",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, cleanup, err := resolveOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			info, err := o.LoadBalancer(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", info.Name, info.DNSName)
			for _, h := range info.Instances {
				fmt.Printf("  %s\t%s\t%s\n", h.InstanceID, h.State, h.Description)
			}
			keys := make([]string, 0, len(info.Attributes))
			for k := range info.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("  %s=%s\n", k, info.Attributes[k])
			}
			return nil
		},
	}
}

// Download a file from every instance
func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download a file from every running instance via SFTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			remotePath, _ := cmd.Flags().GetString("remote")
			dir, _ := cmd.Flags().GetString("dir")
			o, cleanup, err := resolveOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			results, err := o.FetchFromFleet(cmd.Context(), remotePath, dir)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Printf("%s: error: %v\n", r.InstanceID, r.Err)
					continue
				}
				fmt.Printf("%s: %s\n", r.InstanceID, r.LocalPath)
			}
			if failed > 0 {
				return fmt.Errorf("fetch failed on %d of %d instances", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().String("remote", "", "remote file path")
	cmd.Flags().String("dir", ".", "local directory; files land in <dir>/<instance-id>/")
	_ = cmd.MarkFlagRequired("remote")
	return cmd
}

// Show recent operations
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent operations recorded on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("limit")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.History.Disabled {
				return fmt.Errorf("history is disabled (history.disabled)")
			}
			store, err := core.NewStore(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.Recent(cmd.Context(), n)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tOPERATION\tOPERATOR\tSTACK\tSTATUS\tDETAIL")
			for _, r := range runs {
				detail := r.Detail
				if r.Error != "" {
					detail = strings.TrimSpace(detail + " " + r.Error)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format(time.RFC3339), r.Operation, r.Operator, r.Stack, r.Status, detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of runs to show")
	return cmd
}
