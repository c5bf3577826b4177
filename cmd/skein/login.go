package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/logger"
)

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
				return err
			}

			email, _ := cmd.Flags().GetString("email")
			reader := bufio.NewReader(os.Stdin)
			if email == "" {
				fmt.Print("email: ")
				line, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				email = strings.TrimSpace(line)
			}
			fmt.Print("password: ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			password := strings.TrimRight(line, "\r\n")

			client, credStore, _ := buildClient(cfg)
			got, err := client.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			if err := credStore.SetCredentials(got); err != nil {
				return fmt.Errorf("store credentials: %w", err)
			}
			fmt.Println("logged in")
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			_, credStore, _ := buildClient(cfg)
			if err := credStore.Clear(); err != nil {
				return fmt.Errorf("clear credentials: %w", err)
			}
			fmt.Println("logged out")
			return nil
		},
	}
}
