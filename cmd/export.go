package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/osintube/threatscan/internal/export"
	"github.com/osintube/threatscan/internal/model"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <dataset-id>",
	Short: "Write a cached analysis to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		id := model.DatasetID(args[0])
		report, err := env.Cache.Load(ctx, id)
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if report == nil {
			return eris.Errorf("no cached analysis for %s", id)
		}

		path := exportOutput
		if path == "" {
			path = id.String() + "_analysis.xlsx"
		}
		if err := export.SaveXLSX(path, report); err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%d findings).\n", path, len(report.Threats))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output path (default <dataset-id>_analysis.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
