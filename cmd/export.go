package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/service"
	"github.com/numisworks/coindex/internal/store"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the collection and open discrepancies to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		out := exportOut
		if out == "" {
			out = filepath.Join(cfg.Export.Dir, "coindex-"+time.Now().UTC().Format("20060102-150405")+".xlsx")
		}

		if err := writeWorkbook(ctx, svc, out); err != nil {
			return err
		}
		zap.L().Info("export complete", zap.String("path", out))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default <export.dir>/coindex-<timestamp>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}

var coinExportFields = []model.FieldName{
	model.FieldIssuer,
	model.FieldMint,
	model.FieldYearStart,
	model.FieldYearEnd,
	model.FieldState,
	model.FieldGrade,
	model.FieldWeight,
	model.FieldDiameter,
}

func writeWorkbook(ctx context.Context, svc *service.Service, path string) error {
	f := xlsx.NewFile()

	if err := writeCoinSheet(ctx, svc, f); err != nil {
		return err
	}
	if err := writeDiscrepancySheet(ctx, svc, f); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save workbook %s", path)
	}
	return nil
}

func writeCoinSheet(ctx context.Context, svc *service.Service, f *xlsx.File) error {
	sheet, err := f.AddSheet("Coins")
	if err != nil {
		return eris.Wrap(err, "export: add coins sheet")
	}

	header := sheet.AddRow()
	header.AddCell().SetString("ID")
	for _, field := range coinExportFields {
		header.AddCell().SetString(string(field))
	}

	// Page through the whole collection.
	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		coins, err := svc.ListCoins(ctx, pageSize, offset)
		if err != nil {
			return eris.Wrap(err, "export: list coins")
		}
		for i := range coins {
			row := sheet.AddRow()
			row.AddCell().SetString(coins[i].ID)
			for _, field := range coinExportFields {
				v, _ := coins[i].Field(field)
				row.AddCell().SetString(v)
			}
		}
		if len(coins) < pageSize {
			return nil
		}
	}
}

func writeDiscrepancySheet(ctx context.Context, svc *service.Service, f *xlsx.File) error {
	sheet, err := f.AddSheet("Open Discrepancies")
	if err != nil {
		return eris.Wrap(err, "export: add discrepancies sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"ID", "Coin", "Field", "Current", "External", "Confidence", "Source", "Created"} {
		header.AddCell().SetString(h)
	}

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		ds, err := svc.ListDiscrepancies(ctx, store.DiscrepancyFilter{
			Status: model.DiscrepancyOpen,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "export: list discrepancies")
		}
		for _, d := range ds {
			row := sheet.AddRow()
			row.AddCell().SetString(d.ID)
			row.AddCell().SetString(d.CoinID)
			row.AddCell().SetString(string(d.Field))
			row.AddCell().SetString(deref(d.CurrentValue))
			row.AddCell().SetString(deref(d.ExternalValue))
			row.AddCell().SetFloat(d.Confidence)
			row.AddCell().SetString(d.Source)
			row.AddCell().SetString(d.CreatedAt.Format(time.RFC3339))
		}
		if len(ds) < pageSize {
			return nil
		}
	}
}
