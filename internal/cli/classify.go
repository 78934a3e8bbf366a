package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/vaultprobe/internal/probing/classify"
)

var (
	classifyStatus  int
	classifyBody    string
	classifyHeaders []string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Show how a canned response would be classified",
	Example: `  vaultprobe classify --status 401 --body '{"error":"Invalid PIN"}'
  vaultprobe classify --status 429 --header 'Retry-After: 12'`,
	Run: runClassify,
}

func init() {
	classifyCmd.Flags().IntVar(&classifyStatus, "status", 0, "HTTP status (0 = no response)")
	classifyCmd.Flags().StringVar(&classifyBody, "body", "", "response body")
	classifyCmd.Flags().StringArrayVar(&classifyHeaders, "header", nil, "response header as 'Name: value' (repeatable)")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) {
	header := http.Header{}
	for _, h := range classifyHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			fmt.Fprintf(os.Stderr, "Invalid header %q, want 'Name: value'\n", h)
			os.Exit(1)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	out := classify.Default().Classify(classifyStatus, header, []byte(classifyBody))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(w, "CLASS\t%s\n", out.Class)
	_, _ = fmt.Fprintf(w, "RULE\t%s (rules v%s)\n", out.Rule, classify.RulesVersion)
	_, _ = fmt.Fprintf(w, "MESSAGE\t%q\n", out.Message)
	if out.HasHint {
		_, _ = fmt.Fprintf(w, "RETRY AFTER\t%s\n", out.RetryAfter)
	}
	_ = w.Flush()
}
