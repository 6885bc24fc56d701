// Package service assembles the resolution engine from configuration.
//
// It starts the optional database and redis components, picks the realm
// configuration store, loads the resolver definitions into a gateway and
// wires the user lookup and realm membership caches:
//
//	cfg := &service.Config{}
//	settings, err := config.Load("idresolver", cfg)
//	svc, err := service.New(cfg, service.WithSettings(settings))
//	err = svc.Start(ctx)
//	defer svc.Stop(ctx)
//	u, err := svc.Engine().ResolveUser(ctx, nil, "alice@corp", "", "")
//
// Settings are layered: values of the sql configuration store override the
// login section, which overrides the configuration file. Reload picks up
// changes of the store without a restart.
package service
