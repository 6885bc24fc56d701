package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kbukum/idresolver/service"
)

type realmView struct {
	Name      string   `json:"name" yaml:"name"`
	Default   bool     `json:"default" yaml:"default"`
	Resolvers []string `json:"resolvers" yaml:"resolvers"`
}

func realmsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "realms",
		Short: "Show the configured realms and their resolvers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *service.Service) error {
				var views []realmView
				var rows [][]string
				for _, r := range svc.Directory().All() {
					v := realmView{Name: r.Name, Default: r.Default}
					for _, spec := range r.Resolvers {
						v.Resolvers = append(v.Resolvers, spec.String())
						rows = append(rows, []string{r.Name, strconv.FormatBool(r.Default), spec.String(), svc.Gateway().Class(spec)})
					}
					if len(r.Resolvers) == 0 {
						rows = append(rows, []string{r.Name, strconv.FormatBool(r.Default), "", ""})
					}
					views = append(views, v)
				}
				return render(os.Stdout, views, []string{"Realm", "Default", "Resolver", "Class"}, rows)
			})
		},
	}
}
