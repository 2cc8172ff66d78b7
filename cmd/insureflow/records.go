package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/insureflow/insureflow/internal/models"
	"github.com/spf13/cobra"
)

// Record commands read one JSON document from --file, or stdin by default,
// and act on the local book. Policy saves are appended to the connected
// spreadsheet.

func newPolicyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage policies",
	}
	var file string
	var newProduct bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Save a new policy and upsert its holder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p models.Policy
			if err := readJSONInput(cmd.InOrStdin(), file, &p); err != nil {
				return err
			}
			a, err := c.newApp(cmd.Context(), &appOptions{})
			if err != nil {
				return err
			}
			res, err := a.crm.SavePolicy(cmd.Context(), p, newProduct)
			a.printNotices(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved policy %s (synced: %t)\n", res.Policy.ID, res.Synced)
			return nil
		},
	}
	add.Flags().StringVar(&file, "file", "-", "Policy JSON file, - for stdin")
	add.Flags().BoolVar(&newProduct, "new-product", false, "Register the plan as a product")

	update := &cobra.Command{
		Use:   "update",
		Short: "Replace a policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p models.Policy
			if err := readJSONInput(cmd.InOrStdin(), file, &p); err != nil {
				return err
			}
			a, err := c.newApp(cmd.Context(), &appOptions{})
			if err != nil {
				return err
			}
			p, err = a.crm.UpdatePolicy(cmd.Context(), p)
			a.printNotices(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return c.printPolicies(cmd.OutOrStdout(), []models.Policy{p})
		},
	}
	update.Flags().StringVar(&file, "file", "-", "Policy JSON file, - for stdin")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List policies, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.newApp(cmd.Context(), &appOptions{})
				if err != nil {
					return err
				}
				return c.printPolicies(cmd.OutOrStdout(), a.crm.Snapshot().Policies)
			},
		},
		&cobra.Command{
			Use:   "show ID",
			Short: "Show one policy",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.newApp(cmd.Context(), &appOptions{})
				if err != nil {
					return err
				}
				p, err := a.crm.Policy(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			},
		},
		add,
		update,
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete a policy locally",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.newApp(cmd.Context(), &appOptions{})
				if err != nil {
					return err
				}
				if err := a.crm.DeletePolicy(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted policy %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newClientCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage clients",
	}
	var file string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cl models.Client
			if err := readJSONInput(cmd.InOrStdin(), file, &cl); err != nil {
				return err
			}
			a, err := c.newApp(cmd.Context(), &appOptions{})
			if err != nil {
				return err
			}
			if cl, err = a.crm.AddClient(cmd.Context(), cl); err != nil {
				return err
			}
			return c.printClients(cmd.OutOrStdout(), []models.Client{cl})
		},
	}
	add.Flags().StringVar(&file, "file", "-", "Client JSON file, - for stdin")

	update := &cobra.Command{
		Use:   "update ID",
		Short: "Replace a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cl models.Client
			if err := readJSONInput(cmd.InOrStdin(), file, &cl); err != nil {
				return err
			}
			a, err := c.newApp(cmd.Context(), &appOptions{})
			if err != nil {
				return err
			}
			if cl, err = a.crm.UpdateClient(cmd.Context(), args[0], cl); err != nil {
				return err
			}
			return c.printClients(cmd.OutOrStdout(), []models.Client{cl})
		},
	}
	update.Flags().StringVar(&file, "file", "-", "Client JSON file, - for stdin")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List clients",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.newApp(cmd.Context(), &appOptions{})
				if err != nil {
					return err
				}
				return c.printClients(cmd.OutOrStdout(), a.crm.Snapshot().Clients)
			},
		},
		add,
		update,
		&cobra.Command{
			Use:   "policies ID",
			Short: "List the policies held by a client",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.newApp(cmd.Context(), &appOptions{})
				if err != nil {
					return err
				}
				p, err := a.crm.ClientPolicies(args[0])
				if err != nil {
					return err
				}
				return c.printPolicies(cmd.OutOrStdout(), p)
			},
		},
	)
	return cmd
}

func newProductCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage the product library",
	}
	var file string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p models.Product
			if err := readJSONInput(cmd.InOrStdin(), file, &p); err != nil {
				return err
			}
			a, err := c.newApp(cmd.Context(), &appOptions{})
			if err != nil {
				return err
			}
			if p, err = a.crm.AddProduct(cmd.Context(), p); err != nil {
				return err
			}
			return c.printProducts(cmd.OutOrStdout(), []models.Product{p})
		},
	}
	add.Flags().StringVar(&file, "file", "-", "Product JSON file, - for stdin")

	update := &cobra.Command{
		Use:   "update NAME",
		Short: "Replace the product named NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p models.Product
			if err := readJSONInput(cmd.InOrStdin(), file, &p); err != nil {
				return err
			}
			a, err := c.newApp(cmd.Context(), &appOptions{})
			if err != nil {
				return err
			}
			if p, err = a.crm.UpdateProduct(cmd.Context(), args[0], p); err != nil {
				return err
			}
			return c.printProducts(cmd.OutOrStdout(), []models.Product{p})
		},
	}
	update.Flags().StringVar(&file, "file", "-", "Product JSON file, - for stdin")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List products",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.newApp(cmd.Context(), &appOptions{})
				if err != nil {
					return err
				}
				return c.printProducts(cmd.OutOrStdout(), a.crm.Snapshot().Products)
			},
		},
		add,
		update,
	)
	return cmd
}

func (c *cli) printPolicies(w io.Writer, policies []models.Policy) error {
	if c.jsonOutput {
		return printJSON(w, policies)
	}
	if len(policies) == 0 {
		fmt.Fprintln(w, "No policies found.")
		return nil
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "ID\tNUMBER\tHOLDER\tPLAN\tTYPE\tSTATUS\tPREMIUM\tMODE\tANNIVERSARY")
	for _, p := range policies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			p.ID, dash(p.PolicyNumber), p.HolderName, dash(p.PlanName), p.Type, p.Status,
			p.PremiumAmount, p.PaymentMode, dash(p.PolicyAnniversaryDate))
	}
	return tw.Flush()
}

func (c *cli) printClients(w io.Writer, clients []models.Client) error {
	if c.jsonOutput {
		return printJSON(w, clients)
	}
	if len(clients) == 0 {
		fmt.Fprintln(w, "No clients found.")
		return nil
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPOLICIES\tBIRTHDAY\tLAST CONTACT\tTAGS")
	for _, cl := range clients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			cl.ID, cl.Name, cl.Status, cl.TotalPolicies, dash(cl.Birthday), dash(cl.LastContact), dash(strings.Join(cl.Tags, ",")))
	}
	return tw.Flush()
}

func (c *cli) printProducts(w io.Writer, products []models.Product) error {
	if c.jsonOutput {
		return printJSON(w, products)
	}
	if len(products) == 0 {
		fmt.Fprintln(w, "No products found.")
		return nil
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "NAME\tPROVIDER\tTYPE\tTAGS")
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, dash(p.Provider), dash(string(p.Type)), dash(strings.Join(p.DefaultTags, ",")))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
