package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/creds"
	"github.com/skeinhq/skein/internal/store"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show login state and cached session summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			credStore := creds.NewStore(cfg.Storage.CredentialsPath)
			st, err := credStore.Load()
			if err != nil {
				return err
			}
			if st.AccessToken == "" {
				fmt.Println("logged out")
				return nil
			}
			fmt.Println("logged in")
			if exp, ok := creds.ExpiryOf(st.AccessToken); ok {
				fmt.Printf("token expires: %s\n", exp.Format(time.RFC3339))
			}
			if st.ActiveWorkspace != "" {
				fmt.Printf("workspace: %s\n", st.ActiveWorkspace)
			}

			db, err := store.Open(cfg.Storage.DatabasePath)
			if err != nil {
				return nil
			}
			defer db.Close()
			wts, err := db.ListWorktrees()
			if err != nil || len(wts) == 0 {
				return nil
			}
			fmt.Printf("cached worktrees (%d):\n", len(wts))
			for _, w := range wts {
				fmt.Printf("  %s  %-10s %s\n", w.ID, w.Status, w.Name)
			}
			return nil
		},
	}
}
