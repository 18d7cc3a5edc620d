package cmd

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor/builtin"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/searcher"
)

func (a *app) deps() (builtin.Deps, *content.PostgresStore, error) {
	pg, err := a.postgres()
	if err != nil {
		return builtin.Deps{}, nil, err
	}
	store := content.NewPostgresStore(pg.DB)
	return builtin.Deps{
		Access:     store,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Metrics:    a.metrics,
	}, store, nil
}

type searchOptions struct {
	account int64
	limit   int
	offset  int
	fields  []string
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions
	cmd := &cobra.Command{
		Use:   "search <index> [keys...]",
		Short: "Run a search without the result cache",
		Long: `Run a search through the index's processors and backend, bypassing
the result cache. Account 0 searches as the anonymous account.

Examples:
  searchctl search articles "red bicycle"
  searchctl search articles bicycle --account 7 --limit 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, _, err := a.deps()
			if err != nil {
				return err
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			svc := searcher.NewService(reg, deps,
				searcher.WithLimits(a.cfg.Search.DefaultLimit, a.cfg.Search.MaxResults),
				searcher.WithBackendTimeout(a.cfg.Search.BackendTimeout),
			)

			q := query.New(args[0], strings.Join(args[1:], " "))
			q.Limit = opts.limit
			q.Offset = opts.offset
			q.Fields = opts.fields
			if opts.account != content.AnonymousID {
				q.Account = strconv.FormatInt(opts.account, 10)
			}
			resp, err := svc.Search(cmd.Context(), q)
			if err != nil {
				return err
			}

			t := table{header: []string{"ID", "SCORE"}}
			for _, r := range resp.Results.Results {
				t.rows = append(t.rows, []string{r.ID, strconv.FormatFloat(r.Score, 'f', 3, 64)})
			}
			t.rows = append(t.rows, []string{fmt.Sprintf("%d total", resp.ResultCount), ""})
			if len(resp.Ignored) > 0 {
				t.rows = append(t.rows, []string{"ignored: " + strings.Join(resp.Ignored, ", "), ""})
			}
			return render(cmd.OutOrStdout(), a.format, resp, t)
		},
	}
	cmd.Flags().Int64VarP(&opts.account, "account", "a", content.AnonymousID, "Account to search as")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Page size (0 uses the configured default)")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Results to skip")
	cmd.Flags().StringSliceVar(&opts.fields, "fields", nil, "Fulltext fields to search (default: all)")
	return cmd
}

func newReindexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <index> <item-id...>",
		Short: "Load items from the content store and index them now",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, store, err := a.deps()
			if err != nil {
				return err
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			res, err := indexer.NewService(reg, store, deps, indexer.WithMetrics(a.metrics)).IndexItems(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.format, res, table{rows: [][]string{
				{"requested", strconv.Itoa(res.Requested)},
				{"loaded", strconv.Itoa(res.Loaded)},
				{"skipped", strconv.Itoa(res.Skipped)},
				{"indexed", strings.Join(res.Indexed, ", ")},
			}})
		},
	}
}
