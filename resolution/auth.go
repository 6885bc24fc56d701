package resolution

import (
	"context"
	"strings"
	"time"

	"github.com/kbukum/idresolver/audit"
	"github.com/kbukum/idresolver/errors"
	"github.com/kbukum/idresolver/identity"
	"github.com/kbukum/idresolver/logger"
)

// Candidates returns the user references a login may authenticate as, in
// the order they are tried. With a realm hint only that realm is tried;
// otherwise the default realm comes first and, for "user@realm", the
// split form second.
func (e *Engine) Candidates(loginRaw, realmHint string) []*identity.User {
	if realmHint = strings.TrimSpace(realmHint); realmHint != "" {
		return []*identity.User{identity.New(loginRaw, realmHint, "")}
	}
	var out []*identity.User
	if def := e.dir.DefaultName(); def != "" {
		out = append(out, identity.New(loginRaw, def, ""))
	}
	if i := strings.LastIndex(loginRaw, "@"); i >= 0 {
		out = append(out, identity.New(loginRaw[:i], loginRaw[i+1:], ""))
	}
	return out
}

// Authenticate checks password against the candidates of loginRaw and
// returns the first candidate a resolver accepts it for. Resolvers that do
// not check passwords are skipped. A candidate whose bindings disagree on
// the user id fails the whole attempt with AmbiguousUser. When no
// candidate is accepted the error is AuthenticationFailed.
func (e *Engine) Authenticate(ctx context.Context, sink audit.Sink, loginRaw, realmHint, password string) (*identity.User, error) {
	sink = audit.OrDiscard(sink)
	start := time.Now()

	for _, u := range e.Candidates(loginRaw, realmHint) {
		if err := e.BindUser(ctx, sink, u); err != nil {
			return nil, err
		}
		if ids := u.IDs(); len(ids) > 1 {
			e.log.Error("User id mismatch between resolvers", logger.Fields(
				logger.FieldLogin, u.Login, logger.FieldRealm, u.Realm, "ids", ids))
			return nil, errors.AmbiguousUser(u.Login, u.Realm, ids)
		}

		for _, b := range u.Bindings() {
			ok, err := e.gw.CheckPass(ctx, b.Spec, b.ID, password)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.IsNotImplemented(err):
				e.log.Info("Resolver does not check passwords", logger.Fields(
					logger.FieldLogin, u.Login, logger.FieldResolverSpec, b.Spec.String()))
				continue
			case errors.IsResolverUnavailable(err):
				audit.NoteUnavailable(sink, b.Spec.String())
				continue
			default:
				e.log.Error("Password check failed", logger.MergeWithError(logger.Fields(
					logger.FieldLogin, u.Login, logger.FieldResolverSpec, b.Spec.String()), err))
				continue
			}
			if !ok {
				e.log.Info("User failed to authenticate", logger.Fields(
					logger.FieldLogin, u.Login, logger.FieldRealm, u.Realm, logger.FieldResolverSpec, b.Spec.String()))
				continue
			}
			e.log.Debug("User authenticated", logger.Fields(
				logger.FieldLogin, u.Login,
				logger.FieldRealm, u.Realm,
				logger.FieldResolverSpec, b.Spec.String(),
				logger.FieldDuration, time.Since(start).Milliseconds(),
			))
			return u, nil
		}
	}

	e.log.Warn("Authentication failed", logger.Fields(logger.FieldLogin, loginRaw, logger.FieldRealm, realmHint))
	return nil, errors.AuthenticationFailed(loginRaw)
}
