package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/osintube/threatscan/internal/model"
)

var (
	askContext string
	askFormat  string
)

var askCmd = &cobra.Command{
	Use:   "ask <dataset-key> <question>",
	Short: "Ask a free-form question about a dataset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		ds, _, err := env.Datasets.Load(ctx, args[0])
		if err != nil {
			return err
		}

		ans := env.Service.Ask(ctx, ds, args[1], askContext)
		if err := writeAnswer(os.Stdout, ans, askFormat); err != nil {
			return err
		}
		if ans.Status == model.StatusError {
			return eris.Errorf("ask failed: %s", ans.Message)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askContext, "context", "", "extra context for the question")
	askCmd.Flags().StringVar(&askFormat, "format", "text", "output format (text, json)")
	rootCmd.AddCommand(askCmd)
}

func writeAnswer(w io.Writer, ans *model.Answer, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	if ans.Status != model.StatusSuccess {
		fmt.Fprintf(w, "Status: %s\n", ans.Status)
	}
	fmt.Fprintln(w, ans.Text)
	return nil
}
