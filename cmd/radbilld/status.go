package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codelaboratoryltd/radbill/pkg/aaa"
	"github.com/codelaboratoryltd/radbill/pkg/auth"
)

var statusCmd = &cobra.Command{
	Use:   "status <username>",
	Short: "Show a subscriber's RADIUS state",
	Long: `status prints the AAA view of one username: whether records exist,
the current group, online-ness from accounting, and recent authentication
attempts with categorized rejection reasons.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&aaaDSN, "aaa-dsn", "", "RADIUS AAA database DSN")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	if aaaDSN != "" {
		cfg.AAADSN = aaaDSN
	}
	if cfg.AAADSN == "" {
		return fmt.Errorf("AAA DSN is required")
	}

	store, err := aaa.Open(cfg.AAADSN)
	if err != nil {
		return fmt.Errorf("open AAA store: %w", err)
	}
	defer store.Close()

	username := args[0]
	svc := auth.NewService(store, zap.NewNop())
	status, err := svc.RadiusStatus(cmd.Context(), username)
	if err != nil {
		return fmt.Errorf("radius status for %q: %w", username, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "username:    %s\n", username)
	fmt.Fprintf(out, "has records: %t\n", status.HasRecords)
	if status.Group != "" {
		fmt.Fprintf(out, "group:       %s\n", status.Group)
	}
	fmt.Fprintf(out, "online:      %t\n", status.Online)

	if len(status.RecentAuth) > 0 {
		fmt.Fprintln(out, "recent authentication attempts:")
		for _, entry := range status.RecentAuth {
			verdict := "accept"
			detail := ""
			if !entry.Accepted {
				verdict = "reject"
				detail = fmt.Sprintf(" [%s] %s", entry.Category, entry.Reason)
			}
			fmt.Fprintf(out, "  %s  %s%s\n",
				entry.When.Format("2006-01-02 15:04:05"), verdict, detail)
		}
	}
	return nil
}
