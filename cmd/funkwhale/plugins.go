// ABOUTME: Plugin management commands.
// ABOUTME: Lists, enables, configures and inspects plugins for the pod or a user.

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/egidijus/funkwhale/plugins/core"
)

func newPluginsCmd(opts *rootOptions) *cobra.Command {
	var user string

	pluginsCmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage plugins",
		Long: `Inspect and configure installed plugins.

Without --user, commands act on the pod-wide settings that apply to every
user without their own configuration.`,
	}
	pluginsCmd.PersistentFlags().StringVarP(&user, "user", "u", core.PodScope, "Act on this user's settings instead of the pod's")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				confs, err := a.host.Registry.EffectiveConfigs(ctx, user)
				if err != nil {
					return err
				}
				writePluginTable(cmd.OutOrStdout(), a.host.Registry.List(), confs)
				return nil
			})
		},
	}

	enableCmd := &cobra.Command{
		Use:   "enable NAME",
		Short: "Enable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setEnabled(cmd, opts, args[0], true, user)
		},
	}

	disableCmd := &cobra.Command{
		Use:   "disable NAME",
		Short: "Disable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setEnabled(cmd, opts, args[0], false, user)
		},
	}

	configureCmd := &cobra.Command{
		Use:   "configure NAME key=value...",
		Short: "Replace a plugin's settings",
		Long: `Validate and store settings for a plugin. Values are given as key=value
pairs and converted to the field types the plugin declares. Omitted fields
fall back to their defaults; the plugin's enabled state is kept.

Example:
  funkwhale plugins configure scrobbler --user me username=me password=secret`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseSettings(args[1:])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				conf, err := a.host.Registry.SetConfig(ctx, args[0], payload, user)
				if err != nil {
					return err
				}
				d, _ := a.host.Registry.Get(args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "Configured %s for %s\n", args[0], scopeName(user))
				writeSettings(cmd.OutOrStdout(), d, conf.Conf)
				return nil
			})
		},
	}

	var limit int
	failuresCmd := &cobra.Command{
		Use:   "failures [NAME]",
		Short: "Show recent plugin handler failures",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 0 {
				name = args[0]
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireSQL(); err != nil {
					return err
				}
				failures, err := a.sql.GetRecentFailures(ctx, name, limit)
				if err != nil {
					return err
				}
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"Time", "Plugin", "Extension point", "Error"})
				for _, f := range failures {
					table.Append([]string{f.CreatedAt.Local().Format(time.DateTime), f.Plugin, f.ExtensionPoint, f.Error})
				}
				table.Render()
				return nil
			})
		},
	}
	failuresCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of failures to show")

	var since time.Duration
	statsCmd := &cobra.Command{
		Use:   "stats NAME",
		Short: "Show API traffic for a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireSQL(); err != nil {
					return err
				}
				from := time.Now().Add(-since)
				count, err := a.sql.GetPluginRequestCount(ctx, args[0], from)
				if err != nil {
					return err
				}
				rate, err := a.sql.GetPluginErrorRate(ctx, args[0], from)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Requests in the last %s: %d\n", since, count)
				fmt.Fprintf(out, "Error rate: %.1f%%\n", rate)

				recent, err := a.sql.GetRecentRequests(ctx, args[0], 5)
				if err != nil {
					return err
				}
				if len(recent) == 0 {
					return nil
				}
				table := tablewriter.NewWriter(out)
				table.SetHeader([]string{"Time", "User", "Method", "Path", "Status"})
				for _, r := range recent {
					table.Append([]string{r.Timestamp.Local().Format(time.DateTime), r.UserID, r.Method, r.Path, strconv.Itoa(r.StatusCode)})
				}
				table.Render()
				return nil
			})
		},
	}
	statsCmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Time window")

	pluginsCmd.AddCommand(listCmd, enableCmd, disableCmd, configureCmd, failuresCmd, statsCmd)
	return pluginsCmd
}

func setEnabled(cmd *cobra.Command, opts *rootOptions, name string, enabled bool, user string) error {
	return withApp(cmd, opts, func(ctx context.Context, a *app) error {
		if err := a.host.Registry.Enable(ctx, name, enabled, user); err != nil {
			return err
		}
		state := "Disabled"
		if enabled {
			state = "Enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s for %s\n", state, name, scopeName(user))
		return nil
	})
}

// parseSettings turns key=value arguments into a payload. Type conversion
// is left to the plugin schema.
func parseSettings(args []string) (map[string]any, error) {
	payload := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid setting %q, expected key=value", arg)
		}
		payload[key] = value
	}
	return payload, nil
}

func scopeName(user string) string {
	if user == core.PodScope {
		return "the pod"
	}
	return "user " + user
}

func writePluginTable(w io.Writer, plugins []core.Descriptor, confs map[string]core.EffectiveConfig) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Label", "Version", "User", "Enabled", "Configured"})
	for _, d := range plugins {
		conf := confs[d.Name]
		table.Append([]string{
			d.Name,
			d.DisplayLabel(),
			d.Version,
			strconv.FormatBool(d.UserScoped),
			strconv.FormatBool(conf.Enabled),
			strconv.FormatBool(conf.Conf != nil),
		})
	}
	table.Render()
}

// writeSettings prints conf with password fields masked.
func writeSettings(w io.Writer, d core.Descriptor, conf map[string]any) {
	secret := make(map[string]bool)
	for _, f := range d.Schema {
		if f.Type == core.FieldPassword {
			secret[f.Name] = true
		}
	}

	keys := make([]string, 0, len(conf))
	for k := range conf {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := conf[k]
		if secret[k] && v != nil && v != "" {
			v = "********"
		}
		fmt.Fprintf(w, "  %s: %v\n", k, v)
	}
}
