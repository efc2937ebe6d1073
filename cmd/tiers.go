package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/listing-enrich/internal/batch"
)

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Print the dataset-size tiers and their batch settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeTiers(os.Stdout, cfg.Batch.Overrides())
	},
}

func writeTiers(w io.Writer, o batch.Overrides) error {
	tiers := batch.Tiers()
	for i := range tiers {
		tiers[i].Config = batch.ApplyOverrides(tiers[i].Config, o)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(tiers); err != nil {
		return eris.Wrap(err, "tiers: encode")
	}
	return enc.Close()
}

func init() {
	rootCmd.AddCommand(tiersCmd)
}
