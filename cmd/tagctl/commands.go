package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	jwttoken "lifetag/internal/jwt_token"
	ledgermodels "lifetag/internal/ledger/models"
	"lifetag/internal/platform/config"
	registrymodels "lifetag/internal/registry/models"
	id "lifetag/pkg/domain"
	platformstrings "lifetag/pkg/platform/strings"
)

func registerCmd(withEnv envRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "register TAG_ID...",
		Short: "Register manufactured tags as unlinked",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			for _, arg := range platformstrings.DedupeAndTrim(args) {
				tagID, err := id.ParseTagID(arg)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				tag, err := e.registry.Register(cmd.Context(), tagID, registrymodels.SystemRequester())
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				printf(cmd.OutOrStdout(), "%s\t%s\n", tag.ID, tag.Status)
			}
			return nil
		}),
	}
}

func reregisterCmd(withEnv envRunner) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "reregister TAG_ID",
		Short: "Return a revoked tag to the unlinked pool",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			tagID, err := id.ParseTagID(args[0])
			if err != nil {
				return err
			}
			tag, err := e.registry.Reregister(cmd.Context(), tagID, note, registrymodels.SystemRequester())
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\t%s\n", tag.ID, tag.Status)
			return nil
		}),
	}
	cmd.Flags().StringVar(&note, "note", "", "reason for re-registration (required)")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func setStatusCmd(withEnv envRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status TAG_ID STATUS",
		Short: "Suspend, reactivate or revoke a tag",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			tagID, err := id.ParseTagID(args[0])
			if err != nil {
				return err
			}
			status, ok := registrymodels.ParseStatus(strings.ToLower(args[1]))
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			tag, err := e.registry.SetStatus(cmd.Context(), tagID, status, registrymodels.SystemRequester())
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\t%s\n", tag.ID, tag.Status)
			return nil
		}),
	}
}

func ledgerCmd(withEnv envRunner, cfg config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Audit ledger exports and reports",
	}
	cmd.AddCommand(ledgerExportCmd(withEnv))
	cmd.AddCommand(retentionCmd(withEnv, cfg))
	return cmd
}

func ledgerExportCmd(withEnv envRunner) *cobra.Command {
	var owner, from, to, outcomes, query string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an owner's audit entries as CSV to stdout",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, _ []string) error {
			account, err := id.ParseAccountID(owner)
			if err != nil {
				return err
			}
			filter := ledgermodels.Filter{Query: query}
			if filter.From, err = parseTime(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if filter.To, err = parseTime(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			for _, raw := range platformstrings.SplitList(outcomes) {
				o, ok := ledgermodels.ParseOutcome(raw)
				if !ok {
					return fmt.Errorf("unknown outcome %q", raw)
				}
				filter.Outcomes = append(filter.Outcomes, o)
			}
			return e.ledger.ExportCSV(cmd.Context(), cmd.OutOrStdout(), account, filter)
		}),
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner account ID (required)")
	cmd.Flags().StringVar(&from, "from", "", "inclusive lower bound, RFC 3339")
	cmd.Flags().StringVar(&to, "to", "", "exclusive upper bound, RFC 3339")
	cmd.Flags().StringVar(&outcomes, "outcome", "", "comma-separated outcomes")
	cmd.Flags().StringVar(&query, "field", "", "only entries that disclosed a matching field")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func retentionCmd(withEnv envRunner, cfg config.Config) *cobra.Command {
	retention := cfg.Ledger.Retention
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Report entries past the retention minimum, for offline archiving",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, _ []string) error {
			report, err := e.ledger.RetentionReport(cmd.Context(), retention)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}),
	}
	cmd.Flags().DurationVar(&retention, "retention", retention, "retention minimum")
	return cmd
}

// tokenCmd mints an account bearer token for local testing. It needs no
// database.
func tokenCmd(cfg config.Config) *cobra.Command {
	var account string
	var entitled bool
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development account token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accountID := id.AccountID(uuid.New())
			if account != "" {
				parsed, err := id.ParseAccountID(account)
				if err != nil {
					return err
				}
				accountID = parsed
			}
			tokens := jwttoken.NewJWTService(cfg.Server.AccountTokenKey, cfg.Server.AccountIssuer)
			token, err := tokens.GenerateAccountToken(accountID, entitled, ttl)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "account_id=%s\n%s\n", accountID, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account ID (random when empty)")
	cmd.Flags().BoolVar(&entitled, "entitled", true, "set the entitlement claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
