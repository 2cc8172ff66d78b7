package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/insureflow/insureflow/internal/auth"
	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/wizard"
	"github.com/spf13/cobra"
)

func newConnectCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect a Google spreadsheet",
		Long: "Walks through the connection steps: enter the OAuth client id and API key, " +
			"authorize access in the browser, then select or create the spreadsheet.",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the connection status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.newApp(cmd.Context(), &appOptions{})
				if err != nil {
					return err
				}
				return c.printStatus(cmd.OutOrStdout(), a.wizard.Status())
			},
		},
		&cobra.Command{
			Use:   "keys CLIENT_ID API_KEY",
			Short: "Save the OAuth client id and API key",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.newApp(cmd.Context(), &appOptions{})
				if err != nil {
					return err
				}
				if err := a.wizard.SubmitKeys(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				return c.printStatus(cmd.OutOrStdout(), a.wizard.Status())
			},
		},
		&cobra.Command{
			Use:   "authorize",
			Short: "Authorize spreadsheet access in the browser",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.authorize(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "tables",
			Short: "List the spreadsheets that can be selected",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.newApp(cmd.Context(), &appOptions{})
				if err != nil {
					return err
				}
				s, err := a.wizard.Open(cmd.Context())
				if err != nil {
					return err
				}
				return c.printStatus(cmd.OutOrStdout(), s)
			},
		},
		&cobra.Command{
			Use:   "select SPREADSHEET_ID",
			Short: "Connect an existing spreadsheet and sync it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.selectTable(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context, a *app) error {
					return a.wizard.SelectExisting(ctx, args[0])
				})
			},
		},
		newCreateTableCmd(c),
		&cobra.Command{
			Use:   "disconnect",
			Short: "Forget the keys, the grant and the spreadsheet",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.newApp(cmd.Context(), &appOptions{})
				if err != nil {
					return err
				}
				if err := a.wizard.Disconnect(cmd.Context()); err != nil {
					return err
				}
				a.printNotices(cmd.OutOrStdout())
				return nil
			},
		},
	)
	return cmd
}

func newCreateTableCmd(c *cli) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a spreadsheet and connect it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.selectTable(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context, a *app) error {
				id, err := a.wizard.CreateNew(ctx, title)
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Created spreadsheet %s\n", id)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Spreadsheet title (default from google.new_spreadsheet_title)")
	return cmd
}

// authorize runs the consent flow with a loopback redirect target.
func (c *cli) authorize(ctx context.Context, w io.Writer) error {
	lb, err := auth.ListenLoopback()
	if err != nil {
		return err
	}
	defer func() { _ = lb.Close() }()
	a, err := c.newApp(ctx, &appOptions{
		RedirectURL: lb.RedirectURL(),
		Open: func(_ context.Context, authURL string) error {
			fmt.Fprintf(w, "Open this URL in your browser to authorize access:\n\n  %s\n\n", authURL)
			return nil
		},
	})
	if err != nil {
		return err
	}
	lb.Serve(a.remote)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.Google.GrantTimeout))
	defer cancel()
	if err := a.wizard.Authorize(ctx); err != nil {
		return err
	}
	return c.printStatus(w, a.wizard.Status())
}

// selectTable moves the wizard to spreadsheet selection and runs fn. The
// initial sync runs as part of fn and its notices are printed.
func (c *cli) selectTable(ctx context.Context, w io.Writer, fn func(context.Context, *app) error) error {
	a, err := c.newApp(ctx, &appOptions{})
	if err != nil {
		return err
	}
	if err := openSelection(ctx, a.wizard); err != nil {
		return err
	}
	if err := fn(ctx, a); err != nil {
		return err
	}
	a.printNotices(w)
	return c.printStatus(w, a.wizard.Status())
}

// openSelection opens the wizard on spreadsheet selection. Listing needs the
// Drive API while selecting by id does not, so a listing failure is only
// logged.
func openSelection(ctx context.Context, w *wizard.Wizard) error {
	s, err := w.Open(ctx)
	if err != nil && s.Step == wizard.StepSelectTable && models.IsCode(err, models.ErrorCodeAccessDenied) {
		slog.WarnContext(ctx, "Failed to list spreadsheets", "err", err)
		return nil
	}
	return err
}

func (c *cli) printStatus(w io.Writer, s wizard.Status) error {
	if c.jsonOutput {
		return printJSON(w, s)
	}
	fmt.Fprintf(w, "Step:       %d (%s)\n", s.Step, s.StepName)
	fmt.Fprintf(w, "Connected:  %t\n", s.Connected)
	fmt.Fprintf(w, "Authorized: %t\n", s.Authorized)
	if s.SpreadsheetID != "" {
		fmt.Fprintf(w, "Sheet:      %s\n", s.SpreadsheetID)
	}
	if s.Error != nil {
		fmt.Fprintf(w, "Error:      %s (%s)\n", s.Error.Message, s.Error.Code)
	}
	if len(s.Tables) > 0 {
		tw := newTabWriter(w)
		fmt.Fprintln(tw, "\nID\tNAME")
		for _, t := range s.Tables {
			fmt.Fprintf(tw, "%s\t%s\n", t.ID, t.Name)
		}
		return tw.Flush()
	}
	return nil
}
