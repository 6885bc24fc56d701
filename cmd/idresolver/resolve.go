package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kbukum/idresolver/audit"
	"github.com/kbukum/idresolver/identity"
	"github.com/kbukum/idresolver/service"
)

type bindingView struct {
	Resolver string `json:"resolver" yaml:"resolver"`
	Class    string `json:"class" yaml:"class"`
	ID       string `json:"id" yaml:"id"`
}

type userView struct {
	Login    string        `json:"login" yaml:"login"`
	Realm    string        `json:"realm" yaml:"realm"`
	ID       string        `json:"id,omitempty" yaml:"id,omitempty"`
	Bindings []bindingView `json:"bindings" yaml:"bindings"`
}

func viewOf(u *identity.User, id string) userView {
	v := userView{Login: u.Login, Realm: u.Realm, ID: id}
	for _, b := range u.Bindings() {
		v.Bindings = append(v.Bindings, bindingView{Resolver: b.Spec.String(), Class: b.Class, ID: b.ID})
	}
	return v
}

func renderUser(v userView) error {
	rows := make([][]string, 0, len(v.Bindings))
	for _, b := range v.Bindings {
		rows = append(rows, []string{v.Login, v.Realm, b.Resolver, b.Class, b.ID})
	}
	return render(os.Stdout, v, []string{"Login", "Realm", "Resolver", "Class", "ID"}, rows)
}

func resolveCmd() *cobra.Command {
	var realmName, resolverConf string

	cmd := &cobra.Command{
		Use:   "resolve LOGIN",
		Short: "Resolve a login to its unique id and bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *service.Service) error {
				rec := audit.NewRecord()
				defer reportAudit(rec)
				u, err := svc.Engine().ResolveUser(cmd.Context(), rec, args[0], realmName, resolverConf)
				if err != nil {
					return err
				}
				return renderUser(viewOf(u, strings.Join(u.IDs(), ",")))
			})
		},
	}

	cmd.Flags().StringVarP(&realmName, "realm", "r", "", "Realm to resolve in")
	cmd.Flags().StringVar(&resolverConf, "conf", "", "Restrict to one resolver configuration name")
	return cmd
}
