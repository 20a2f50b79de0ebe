package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/lifeddx/steve/backend/internal/service/auth"
)

func newRootCmd() *cobra.Command {
	var file string

	root := &cobra.Command{
		Use:   "credtool",
		Short: "Manage the credential file of the Steve backend",
		Long: `Manage the YAML credential file read by the Steve backend.

Quick Start:
  credtool init --file config.yaml --preauthorize carol@example.com
  credtool add-user --file config.yaml --username alice --name Alice --email alice@example.com
  credtool hash`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&file, "file", "f", "config.yaml", "Path to the credential file")

	root.AddCommand(newInitCmd(&file), newAddUserCmd(&file), newHashCmd(), newCheckCmd(&file))
	return root
}

func newInitCmd(file *string) *cobra.Command {
	var (
		cookieName   string
		expiryDays   float64
		preauthorize []string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty credential file with a random cookie key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("generate cookie key: %w", err)
			}

			cookie := auth.CookieConfig{Name: cookieName, Key: hex.EncodeToString(key), ExpiryDays: expiryDays}
			if err := auth.CreateFile(*file, cookie, preauthorize); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", *file)
			return nil
		},
	}
	cmd.Flags().StringVar(&cookieName, "cookie-name", auth.DefaultCookieName, "Name of the re-authentication cookie")
	cmd.Flags().Float64Var(&expiryDays, "expiry-days", 30, "Lifetime of the re-authentication cookie in days")
	cmd.Flags().StringSliceVar(&preauthorize, "preauthorize", nil, "Emails allowed to self-register")
	return cmd
}

func newAddUserCmd(file *string) *cobra.Command {
	var reg auth.Registration

	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Add an account to the credential file",
		Long:  `Add an account. The password is read from stdin when --password is not given.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reg.Password == "" {
				password, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				reg.Password = password
			}

			store, err := auth.LoadFileStore(*file)
			if err != nil {
				return err
			}
			id, err := store.Register(reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", id.Username, id.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&reg.Username, "username", "", "Login name")
	cmd.Flags().StringVar(&reg.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&reg.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&reg.Password, "password", "", "Password (prefer stdin)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newHashCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash [password]",
		Short: "Print the bcrypt hash of a password",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				read, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = read
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func newCheckCmd(file *string) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify a username/password pair against the credential file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			store, err := auth.LoadFileStore(*file)
			if err != nil {
				return err
			}
			id, err := store.Verify(username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok %s (%s)\n", id.Username, id.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Login name")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is empty")
	}
	return password, nil
}
