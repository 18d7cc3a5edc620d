package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/auth/apikey"
)

func newKeysCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys kept in PostgreSQL",
	}
	cmd.AddCommand(newKeysCreateCmd(a))
	cmd.AddCommand(newKeysListCmd(a))
	cmd.AddCommand(newKeysRevokeCmd(a))
	return cmd
}

func (a *app) keyStore() (*apikey.Store, error) {
	pg, err := a.postgres()
	if err != nil {
		return nil, err
	}
	return apikey.NewStore(pg.DB), nil
}

func newKeysCreateCmd(a *app) *cobra.Command {
	var (
		spec    apikey.Spec
		expires time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a key and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.keyStore()
			if err != nil {
				return err
			}
			spec.Name = args[0]
			if spec.RateLimit <= 0 {
				spec.RateLimit = a.cfg.Auth.DefaultRateLimit
			}
			if expires > 0 {
				at := time.Now().Add(expires)
				spec.ExpiresAt = &at
			}
			raw, err := store.CreateKey(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.format, map[string]any{
				"key":        raw,
				"name":       spec.Name,
				"account_id": spec.AccountID,
				"admin":      spec.Admin,
			}, table{rows: [][]string{{raw}}})
		},
	}
	cmd.Flags().Int64VarP(&spec.AccountID, "account", "a", 0, "Content account searches with this key run as")
	cmd.Flags().BoolVar(&spec.Admin, "admin", false, "Allow the task and cache endpoints")
	cmd.Flags().IntVar(&spec.RateLimit, "rate-limit", 0, "Requests per window (0 uses the configured default)")
	cmd.Flags().DurationVar(&expires, "expires-in", 0, "Lifetime of the key (0 never expires)")
	return cmd
}

func newKeysListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.keyStore()
			if err != nil {
				return err
			}
			keys, err := store.ListKeys(cmd.Context())
			if err != nil {
				return err
			}
			t := table{header: []string{"ID", "NAME", "ACCOUNT", "ADMIN", "RATE LIMIT", "EXPIRES"}}
			for _, k := range keys {
				expires := "never"
				if k.ExpiresAt != nil {
					expires = k.ExpiresAt.Format(time.RFC3339)
				}
				t.rows = append(t.rows, []string{
					k.ID, k.Name, strconv.FormatInt(k.AccountID, 10), strconv.FormatBool(k.Admin),
					strconv.Itoa(k.RateLimit), expires,
				})
			}
			if keys == nil {
				keys = []apikey.KeyInfo{}
			}
			return render(cmd.OutOrStdout(), a.format, keys, t)
		},
	}
}

func newKeysRevokeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Deactivate a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.keyStore()
			if err != nil {
				return err
			}
			if err := store.RevokeKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.format, map[string]string{"revoked": args[0]},
				table{rows: [][]string{{fmt.Sprintf("revoked %s", args[0])}}})
		},
	}
}
