package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info PRODUCT_NAME",
	Short: "Show catalog metadata for a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		authority, err := newAuthority(globalConfig)
		if err != nil {
			return err
		}
		client := newApiClient(globalConfig, authority)
		p, found, err := client.GetProductInfo(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("product not found in catalog: %s", args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
