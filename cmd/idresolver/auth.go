package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kbukum/idresolver/audit"
	"github.com/kbukum/idresolver/service"
)

func authCmd() *cobra.Command {
	var realmName, password string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "auth LOGIN",
		Short: "Check a password against the resolvers of the login's realm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			return withService(cmd.Context(), func(svc *service.Service) error {
				rec := audit.NewRecord()
				defer reportAudit(rec)
				u, err := svc.Engine().Authenticate(cmd.Context(), rec, args[0], realmName, password)
				if err != nil {
					return err
				}
				return renderUser(viewOf(u, strings.Join(u.IDs(), ",")))
			})
		},
	}

	cmd.Flags().StringVarP(&realmName, "realm", "r", "", "Realm hint; without it the default realm and the login suffix are tried")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password to check")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}
