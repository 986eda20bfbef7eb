package main

import (
	"fmt"
	"github.com/joho/godotenv"
	"github.com/shahruladnn-prog/LRC-Course/internal/config"
	"github.com/shahruladnn-prog/LRC-Course/internal/pos"
	"github.com/spf13/cobra"
	"os"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	client := pos.NewClient(cfg.Loyverse.BaseURL, cfg.Loyverse.Token, cfg.HTTPClientTimeout)

	rootCmd := &cobra.Command{
		Use:          "posdiag",
		Short:        "Check the POS configuration used for receipt sync",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(storesCmd(client, cfg.Loyverse.StoreID))
	rootCmd.AddCommand(paymentTypesCmd(client, cfg.Loyverse.PaymentTypeID))
	rootCmd.AddCommand(skuCmd(client, cfg.Loyverse.StoreID))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
