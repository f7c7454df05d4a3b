package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/numisworks/coindex/internal/model"
)

var coinsCmd = &cobra.Command{
	Use:   "coins",
	Short: "Manage the coin collection",
}

// -- coins add --

var coinsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a coin to the collection",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		coin := &model.Coin{}
		for _, f := range []struct {
			flag  string
			field model.FieldName
		}{
			{"issuer", model.FieldIssuer},
			{"mint", model.FieldMint},
			{"year-start", model.FieldYearStart},
			{"year-end", model.FieldYearEnd},
			{"state", model.FieldState},
			{"grade", model.FieldGrade},
			{"weight", model.FieldWeight},
			{"diameter", model.FieldDiameter},
		} {
			v, _ := cmd.Flags().GetString(f.flag)
			if v == "" {
				continue
			}
			if err := coin.SetField(f.field, v); err != nil {
				return eris.Wrapf(err, "coins add: --%s", f.flag)
			}
		}

		created, err := svc.CreateCoin(ctx, coin)
		if err != nil {
			return err
		}
		return writeJSON(created)
	},
}

// -- coins list --

var coinsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List coins",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		coins, err := svc.ListCoins(ctx, limit, offset)
		if err != nil {
			return eris.Wrap(err, "coins list")
		}
		if len(coins) == 0 {
			fmt.Fprintln(os.Stderr, "No coins found.")
			return nil
		}

		formatCoinList(os.Stdout, coins)
		return nil
	},
}

// -- coins show --

var coinsShowCmd = &cobra.Command{
	Use:   "show <coin-id>",
	Short: "Show full details of a coin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		coin, err := svc.GetCoin(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "coins show")
		}
		return writeJSON(coin)
	},
}

// -- coins delete --

var coinsDeleteCmd = &cobra.Command{
	Use:   "delete <coin-id>",
	Short: "Delete a coin record (its event history remains)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return svc.DeleteCoin(ctx, args[0])
	},
}

// -- coins add-image --

var coinsAddImageCmd = &cobra.Command{
	Use:   "add-image <coin-id>",
	Short: "Record an image attachment for a coin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		imageID, _ := cmd.Flags().GetString("image")
		side, _ := cmd.Flags().GetString("side")

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return svc.AddImage(ctx, args[0], imageID, side)
	},
}

func init() {
	for _, flag := range []string{"issuer", "mint", "year-start", "year-end", "state", "grade", "weight", "diameter"} {
		coinsAddCmd.Flags().String(flag, "", flag+" of the coin")
	}

	coinsListCmd.Flags().Int("limit", 50, "max number of coins to display")
	coinsListCmd.Flags().Int("offset", 0, "pagination offset")

	coinsAddImageCmd.Flags().String("image", "", "image identifier (required)")
	coinsAddImageCmd.Flags().String("side", "", "obverse or reverse")
	_ = coinsAddImageCmd.MarkFlagRequired("image")

	coinsCmd.AddCommand(coinsAddCmd)
	coinsCmd.AddCommand(coinsListCmd)
	coinsCmd.AddCommand(coinsShowCmd)
	coinsCmd.AddCommand(coinsDeleteCmd)
	coinsCmd.AddCommand(coinsAddImageCmd)
	rootCmd.AddCommand(coinsCmd)
}

// formatCoinList writes a tabular list of coins to w.
func formatCoinList(out io.Writer, coins []model.Coin) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tISSUER\tMINT\tYEARS\tGRADE")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t-----\t-----")

	for _, c := range coins {
		issuer, _ := c.Field(model.FieldIssuer)
		mint, _ := c.Field(model.FieldMint)
		grade, _ := c.Field(model.FieldGrade)

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(c.ID),
			truncateValue(issuer),
			truncateValue(mint),
			formatYears(&c),
			grade,
		)
	}
	_ = w.Flush()
}

// formatYears renders a reign or issue span, using a minus sign for BCE.
func formatYears(c *model.Coin) string {
	start, okS := c.Field(model.FieldYearStart)
	end, okE := c.Field(model.FieldYearEnd)
	switch {
	case okS && okE:
		return start + ".." + end
	case okS:
		return start
	case okE:
		return ".." + end
	}
	return ""
}
