package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-core-stack/throttle/db"
	"github.com/go-core-stack/throttle/errors"
	"github.com/go-core-stack/throttle/rate"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage rate profiles stored in mongo",
	}
	cmd.AddCommand(newProfileListCmd(a))
	cmd.AddCommand(newProfileSetCmd(a))
	cmd.AddCommand(newProfileDeleteCmd(a))
	return cmd
}

// withProfiles connects to the profile store for the duration of fn
func (a *app) withProfiles(ctx context.Context, fn func(*db.ProfileTable) error) error {
	if !a.cfg.Mongo.Enabled() {
		return errors.Wrap(errors.InvalidArgument, "mongo is not configured, set mongo.uri or mongo.host")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	client, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())
	return fn(client.Profiles(a.cfg.Mongo.Database))
}

func newProfileListCmd(a *app) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored rate profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProfiles(cmd.Context(), func(t *db.ProfileTable) error {
				list, err := t.List(cmd.Context())
				if err != nil {
					return err
				}
				if asYAML {
					return renderProfilesYAML(cmd.OutOrStdout(), list)
				}
				renderProfilesTable(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print profiles as yaml")
	return cmd
}

func newProfileSetCmd(a *app) *cobra.Command {
	var bytesPerSecond, minTake, maxTake int64
	cmd := &cobra.Command{
		Use:   "set NAME",
		Short: "Create or replace a rate profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := &db.Profile{
				Name:           args[0],
				BytesPerSecond: bytesPerSecond,
				MinTake:        minTake,
				MaxTake:        maxTake,
			}
			if err := p.Validate(); err != nil {
				return err
			}
			return a.withProfiles(cmd.Context(), func(t *db.ProfileTable) error {
				if err := t.Upsert(cmd.Context(), p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "profile %q saved\n", p.Name)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&bytesPerSecond, "rate", 0, "sustained rate in bytes per second, 0 for unlimited")
	cmd.Flags().Int64Var(&minTake, "min-take", rate.DefaultMinTake, "smallest grant once waiting is required")
	cmd.Flags().Int64Var(&maxTake, "max-take", rate.DefaultMaxTake, "largest grant without waiting")
	return cmd
}

func newProfileDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a rate profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProfiles(cmd.Context(), func(t *db.ProfileTable) error {
				if err := t.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "profile %q deleted\n", args[0])
				return nil
			})
		},
	}
}

func renderProfilesTable(w io.Writer, list []*db.Profile) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Bytes/s", "Min Take", "Max Take", "Updated"})
	for _, p := range list {
		bps := fmt.Sprint(p.BytesPerSecond)
		if p.BytesPerSecond == 0 {
			bps = "unlimited"
		}
		t.AppendRow(table.Row{p.Name, bps, p.MinTake, p.MaxTake, p.UpdatedAt.Format(time.RFC3339)})
	}
	t.Render()
}

func renderProfilesYAML(w io.Writer, list []*db.Profile) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(list)
}
