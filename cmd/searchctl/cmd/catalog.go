package cmd

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor/builtin"
)

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with the server/index catalog",
	}
	cmd.AddCommand(newCatalogValidateCmd(a))
	return cmd
}

type indexSummary struct {
	ID         string   `json:"id"`
	Server     string   `json:"server"`
	Enabled    bool     `json:"enabled"`
	ReadOnly   bool     `json:"read_only"`
	Datasource string   `json:"datasource"`
	Fields     int      `json:"fields"`
	Processors []string `json:"processors"`
}

// validateProcessors reports processors no pipeline can build.
func validateProcessors(cat *catalog.Catalog) error {
	known := builtin.IDs()
	var bad []string
	for _, idx := range cat.Indexes {
		for _, p := range idx.Processors {
			if !slices.Contains(known, p.ID) {
				bad = append(bad, fmt.Sprintf("%s: %s", idx.ID, p.ID))
			}
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("unknown processors (known: %s): %s", strings.Join(known, ", "), strings.Join(bad, "; "))
	}
	return nil
}

func newCatalogValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a catalog and list its indexes",
		Long:  "Check a catalog and list its indexes. Without a path the configured catalog is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Catalog.Path
			if len(args) == 1 {
				path = args[0]
			}
			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}
			if err := validateProcessors(cat); err != nil {
				return err
			}

			summaries := make([]indexSummary, 0, len(cat.Indexes))
			t := table{header: []string{"INDEX", "SERVER", "ENABLED", "READ-ONLY", "DATASOURCE", "FIELDS", "PROCESSORS"}}
			for _, idx := range cat.Indexes {
				s := indexSummary{
					ID:         idx.ID,
					Server:     idx.ServerID,
					Enabled:    idx.Enabled,
					ReadOnly:   idx.ReadOnly,
					Datasource: idx.Datasource.Type,
					Fields:     len(idx.Fields),
					Processors: []string{},
				}
				for _, p := range idx.Processors {
					if p.Enabled {
						s.Processors = append(s.Processors, p.ID)
					}
				}
				summaries = append(summaries, s)
				t.rows = append(t.rows, []string{
					s.ID, s.Server, strconv.FormatBool(s.Enabled), strconv.FormatBool(s.ReadOnly),
					s.Datasource, strconv.Itoa(s.Fields), strings.Join(s.Processors, ","),
				})
			}
			return render(cmd.OutOrStdout(), a.format, map[string]any{
				"path":    path,
				"servers": len(cat.Servers),
				"indexes": summaries,
			}, t)
		},
	}
}
