package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/insureflow/insureflow/internal/crm"
	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/remote"
	"github.com/insureflow/insureflow/internal/sheets"
	"github.com/maruel/ksid"
	"github.com/spf13/cobra"
)

func newSyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replace local policies and clients with the spreadsheet content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSync(cmd.Context(), cmd.OutOrStdout(), (*crm.Coordinator).SyncNow)
		},
	}
}

func newPushCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Overwrite the spreadsheet with the local policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSync(cmd.Context(), cmd.OutOrStdout(), (*crm.Coordinator).PushAll)
		},
	}
}

func (c *cli) runSync(ctx context.Context, w io.Writer, op func(*crm.Coordinator, context.Context) (*crm.SyncResult, error)) error {
	a, err := c.newApp(ctx, &appOptions{})
	if err != nil {
		return err
	}
	res, err := op(a.crm, ctx)
	a.printNotices(w)
	if err != nil {
		return err
	}
	if c.jsonOutput {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "Run %s: %d policies, %d clients\n", res.RunID, res.Policies, res.Clients)
	return nil
}

func newAppendCmd(c *cli) *cobra.Command {
	var keyFile, spreadsheetID, policyFile string
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append one policy to a spreadsheet with a service account",
		Long: "Appends the policy read from --policy (a JSON file, or - for stdin) to the " +
			"spreadsheet, creating the policy sheet and its header when missing. " +
			"The local book and the saved connection are not used.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := os.ReadFile(keyFile) //nolint:gosec // G304: path is the user's own flag
			if err != nil {
				return fmt.Errorf("failed to read service account key: %w", err)
			}
			p, err := readPolicy(cmd.InOrStdin(), policyFile)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			g := c.cfg.Google
			conn, err := remote.ServiceAccountConnection(ctx, key, spreadsheetID, g.SheetTitle, sheets.PerMinute(g.RequestsPerMinute))
			if err != nil {
				return err
			}
			if err := conn.EnsureStructure(ctx); err != nil {
				return err
			}
			if err := conn.AppendOne(ctx, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Appended policy %s\n", p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "service-account", "", "Service account JSON key file")
	cmd.Flags().StringVar(&spreadsheetID, "spreadsheet", "", "Spreadsheet id")
	cmd.Flags().StringVar(&policyFile, "policy", "-", "Policy JSON file, - for stdin")
	_ = cmd.MarkFlagRequired("service-account")
	_ = cmd.MarkFlagRequired("spreadsheet")
	return cmd
}

// readPolicy decodes and validates a policy. A missing id is generated.
func readPolicy(stdin io.Reader, path string) (*models.Policy, error) {
	var p models.Policy
	if err := readJSONInput(stdin, path, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = "p-" + ksid.NewID().String()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// readJSONInput decodes the JSON document in path, or stdin when path is "-".
func readJSONInput(stdin io.Reader, path string, v any) error {
	r := stdin
	if path != "-" {
		f, err := os.Open(path) //nolint:gosec // G304: path is the user's own flag
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
