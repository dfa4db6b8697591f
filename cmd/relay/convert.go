package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/relay/internal/convert"
	"github.com/livinlefevreloca/relay/internal/record"
)

var convertKind string

var convertCmd = &cobra.Command{
	Use:   "convert FILE",
	Short: "Convert a source document to Taifun XML on stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := record.ParseKind(convertKind)
		if err != nil {
			return err
		}
		source, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		out, err := convert.Convert(kind, string(source))
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertKind, "kind", string(record.KindOrder), "Record kind: order or call")
}
