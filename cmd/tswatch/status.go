package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusGitHub bool

func init() {
	statusCmd.Flags().BoolVar(&statusGitHub, "github", false, "treat the page argument as a GitHub display path")
	rootCmd.AddCommand(statusCmd, pagesCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <page> [key=value...]",
	Short: "Show the HTML status of a page once",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}
		page, err := resolvePage(cmd.Context(), args[0], statusGitHub)
		if err != nil {
			return errors.New(describeError(err))
		}
		st, err := svc.HTMLStatus(cmd.Context(), page, params, true)
		if err != nil {
			return errors.New(describeError(err))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\n", boldStyle.Render("page"), page.Name)
		if len(params) > 0 {
			fmt.Fprintf(w, "%s\t%s\n", boldStyle.Render("params"), params)
		}
		avail := errStyle.Render("no")
		if st.Available {
			avail = stateComplete.Render("yes")
		}
		fmt.Fprintf(w, "%s\t%s\n", boldStyle.Render("available"), avail)
		fmt.Fprintf(w, "%s\t%s\n", boldStyle.Render("token"), st.ContentToken())
		if st.ContentURL != "" {
			fmt.Fprintf(w, "%s\t%s\n", boldStyle.Render("url"), st.ContentURL)
		}
		return w.Flush()
	},
}

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "List notebook pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, err := svc.Pages(cmd.Context(), false)
		if err != nil {
			return errors.New(describeError(err))
		}
		if len(pages) == 0 {
			fmt.Println(dimStyle.Render("no pages"))
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, titleStyle.Render("NAME")+"\t"+titleStyle.Render("TITLE"))
		for _, p := range pages {
			fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Title)
		}
		return w.Flush()
	},
}
