package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/austindbirch/tml_hook/internal/rates"
)

type collector interface {
	Collect(ctx context.Context, req rates.Request) (rates.Method, bool)
}

// rateCmd represents the rate command
var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Query TML shipping rates",
}

var rateQuoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Quote a shipment the way checkout does",
	Long: `Quote a shipment the way checkout does.

Examples:
  tmlctl rate quote --tenant 1 --postal-code 5000 --weight 1.5
  tmlctl rate quote --tenant 1 --postal-code 5000 --weight 3 --unit lbs --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := rates.Request{}
		req.TenantID, _ = cmd.Flags().GetInt64("tenant")
		req.PostalCode, _ = cmd.Flags().GetString("postal-code")
		req.CountryID, _ = cmd.Flags().GetString("country")
		req.PackageWeight, _ = cmd.Flags().GetFloat64("weight")
		req.WeightUnit, _ = cmd.Flags().GetString("unit")

		ctx, cancel := commandContext(cmd)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return runQuote(ctx, cmd.OutOrStdout(), a.Carrier, req, outputJSON)
	},
}

func runQuote(ctx context.Context, w io.Writer, c collector, req rates.Request, asJSON bool) error {
	if req.TenantID <= 0 {
		return errors.New("--tenant is required")
	}
	m, ok := c.Collect(ctx, req)
	if asJSON {
		methods := []rates.Method{}
		if ok {
			methods = append(methods, m)
		}
		return printJSON(w, map[string]any{"methods": methods})
	}
	if !ok {
		fmt.Fprintln(w, "No TML rate available for this request.")
		return nil
	}
	fmt.Fprintf(w, "%s: %s %s\n", m.MethodTitle, m.Price.StringFixed(2), m.Rate.Currency)
	return nil
}

func init() {
	rootCmd.AddCommand(rateCmd)
	rateCmd.AddCommand(rateQuoteCmd)

	rateQuoteCmd.Flags().Int64("tenant", 0, "tenant id")
	rateQuoteCmd.Flags().String("postal-code", "", "destination postal code")
	rateQuoteCmd.Flags().String("country", "AR", "destination country id")
	rateQuoteCmd.Flags().Float64("weight", 0, "package weight")
	rateQuoteCmd.Flags().String("unit", "kgs", "weight unit (kgs or lbs)")
}
