package main

import (
	"context"
	"fmt"
	"github.com/shahruladnn-prog/LRC-Course/internal/pos"
	"github.com/spf13/cobra"
	"io"
	"strings"
)

// diagAPI is the read-only part of the POS client the commands use.
type diagAPI interface {
	ListStores(ctx context.Context) ([]pos.StoreInfo, error)
	ListPaymentTypes(ctx context.Context) ([]pos.PaymentType, error)
	FindVariantsBySKU(ctx context.Context, sku string) ([]pos.Variant, error)
}

func storesCmd(api diagAPI, configured string) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List POS stores and check LOYVERSE_STORE_ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStores(cmd.Context(), cmd.OutOrStdout(), api, configured)
		},
	}
}

func paymentTypesCmd(api diagAPI, configured string) *cobra.Command {
	return &cobra.Command{
		Use:   "payment-types",
		Short: "List POS payment types and check LOYVERSE_PAYMENT_TYPE_ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPaymentTypes(cmd.Context(), cmd.OutOrStdout(), api, configured)
		},
	}
}

func skuCmd(api diagAPI, storeID string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sku [sku]",
		Short: "Show the variants a course SKU maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _ := cmd.Flags().GetString("store")
			return runSKU(cmd.Context(), cmd.OutOrStdout(), api, args[0], store)
		},
	}
	cmd.Flags().StringP("store", "s", storeID, "Store the variant must be sellable in")
	return cmd
}

func runStores(ctx context.Context, w io.Writer, api diagAPI, configured string) error {
	stores, err := api.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}
	found := false
	for _, s := range stores {
		mark := " "
		if s.ID == configured {
			mark, found = "*", true
		}
		fmt.Fprintf(w, "%s %s  %s\n", mark, s.ID, s.Name)
	}
	return reportConfigured(w, "LOYVERSE_STORE_ID", configured, found)
}

func runPaymentTypes(ctx context.Context, w io.Writer, api diagAPI, configured string) error {
	types, err := api.ListPaymentTypes(ctx)
	if err != nil {
		return fmt.Errorf("list payment types: %w", err)
	}
	found := false
	for _, pt := range types {
		mark := " "
		if pt.ID == configured {
			mark, found = "*", true
		}
		fmt.Fprintf(w, "%s %s  %s (%s)\n", mark, pt.ID, pt.Name, pt.Type)
	}
	return reportConfigured(w, "LOYVERSE_PAYMENT_TYPE_ID", configured, found)
}

func runSKU(ctx context.Context, w io.Writer, api diagAPI, sku, storeID string) error {
	sku = strings.TrimSpace(sku)
	variants, err := api.FindVariantsBySKU(ctx, sku)
	if err != nil {
		return fmt.Errorf("find sku %s: %w", sku, err)
	}
	if len(variants) == 0 {
		return fmt.Errorf("sku %s: no variants", sku)
	}
	usable := 0
	for _, v := range variants {
		state := "not sellable"
		if v.SellableIn(storeID) {
			state = "ok"
			usable++
		}
		fmt.Fprintf(w, "%s  item=%s  %s\n", v.Ref(), v.ItemID, state)
	}
	if usable == 0 {
		return fmt.Errorf("sku %s: no variant sellable in store %q", sku, storeID)
	}
	return nil
}

func reportConfigured(w io.Writer, key, configured string, found bool) error {
	switch {
	case configured == "":
		return fmt.Errorf("%s is not set", key)
	case !found:
		return fmt.Errorf("%s=%s not found", key, configured)
	}
	fmt.Fprintf(w, "%s=%s ok\n", key, configured)
	return nil
}
