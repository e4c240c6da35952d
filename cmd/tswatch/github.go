package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tswatch/internal/tswatch"
)

var (
	githubPR       string
	githubContents bool
)

func init() {
	githubCmd.Flags().StringVar(&githubPR, "pr", "", "owner/repo/commit of a pull request preview")
	githubCmd.Flags().BoolVar(&githubContents, "contents", false, "list the page tree instead of resolving one page")
	rootCmd.AddCommand(githubCmd)
}

var githubCmd = &cobra.Command{
	Use:   "github [display-path] [key=value...]",
	Short: "Resolve a GitHub-backed page by its display path, or list the page tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var (
			owner, repo, commit string
			err                 error
		)
		if githubPR != "" {
			owner, repo, commit, err = splitPR(githubPR)
			if err != nil {
				return err
			}
		}

		if githubContents {
			if len(args) != 0 {
				return fmt.Errorf("--contents takes no arguments")
			}
			if githubPR != "" {
				pr, err := svc.GitHubPRContents(ctx, owner, repo, commit, false)
				if err != nil {
					return errors.New(describeError(err))
				}
				printPRChecks(pr)
				printTree(pr.Contents, 0)
				return nil
			}
			tree, err := svc.GitHubContents(ctx, false)
			if err != nil {
				return errors.New(describeError(err))
			}
			printTree(tree.Contents, 0)
			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("a display path is required unless --contents is set")
		}
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}

		var (
			page *tswatch.Page
			st   *tswatch.HTMLStatus
		)
		if githubPR != "" {
			page, err = svc.GitHubPRPage(ctx, owner, repo, commit, args[0], false)
			if err == nil {
				st, err = svc.GitHubPRHTMLStatus(ctx, owner, repo, commit, args[0], params, true)
			}
		} else {
			page, err = svc.GitHubPage(ctx, args[0], false)
			if err == nil {
				st, err = svc.GitHubHTMLStatus(ctx, args[0], params, true)
			}
		}
		if err != nil {
			return errors.New(describeError(err))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\n", boldStyle.Render("name"), page.Name)
		fmt.Fprintf(w, "%s\t%s\n", boldStyle.Render("title"), page.Title)
		fmt.Fprintf(w, "%s\t%s\n", boldStyle.Render("status"), page.HTMLStatusURL)
		fmt.Fprintf(w, "%s\t%s\n", boldStyle.Render("events"), page.HTMLEventsURL)
		fmt.Fprintf(w, "%s\t%s\n", boldStyle.Render("token"), st.ContentToken())
		return w.Flush()
	},
}

func printTree(nodes []tswatch.ContentNode, depth int) {
	if depth == 0 && len(nodes) == 0 {
		fmt.Println(dimStyle.Render("no pages"))
		return
	}
	for _, n := range nodes {
		label := n.Title
		if n.NodeType == "page" {
			label = boldStyle.Render(n.Title) + " " + dimStyle.Render(n.Path)
		}
		fmt.Printf("%s%s\n", strings.Repeat("  ", depth), label)
		printTree(n.Contents, depth+1)
	}
}

func printPRChecks(pr *tswatch.GitHubPRContents) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("%s/%s @ %s", pr.Owner, pr.Repo, pr.Commit)))
	for _, c := range []*tswatch.CheckRunSummary{pr.YAMLCheck, pr.NbexecCheck} {
		if c == nil {
			continue
		}
		result := c.Status
		if c.Conclusion != nil {
			result = *c.Conclusion
		}
		fmt.Printf("  %s %s\n", c.Name, dimStyle.Render(result))
	}
	for _, p := range pr.PullRequests {
		fmt.Printf("  #%d %s %s\n", p.Number, p.Title, dimStyle.Render(p.State))
	}
}

func splitPR(s string) (owner, repo, commit string, err error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("--pr must be owner/repo/commit, got %q", s)
	}
	return parts[0], parts[1], parts[2], nil
}
