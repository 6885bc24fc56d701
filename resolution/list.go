package resolution

import (
	"context"
	stderrors "errors"

	"github.com/kbukum/idresolver/audit"
	"github.com/kbukum/idresolver/errors"
	"github.com/kbukum/idresolver/identity"
	"github.com/kbukum/idresolver/logger"
	"github.com/kbukum/idresolver/resolver"
	"github.com/kbukum/idresolver/resolverspec"
)

// Filter keys that select the scope of a listing instead of filtering
// profiles.
const (
	FilterRealm        = "realm"
	FilterResolverConf = "resConf"
)

// ErrStop may be returned by an Iterate callback to end the listing early
// without an error.
var ErrStop = stderrors.New("stop listing")

// Iterate streams the profiles matching filter from every resolver of
// scope, one resolver after another in realm order. Each profile is tagged
// with the resolver it came from and warms the lookup cache. A resolver
// that fails is logged, and noted in sink when unreachable, and the listing
// continues with the next one. Cancellation and errors from fn end it.
func (e *Engine) Iterate(ctx context.Context, sink audit.Sink, filter map[string]string, scope *identity.User, fn func(resolver.Profile) error) error {
	sink = audit.OrDiscard(sink)
	if scope == nil {
		scope = identity.New("", "", "")
	}
	search := make(map[string]string, len(filter))
	for k, v := range filter {
		if k == FilterRealm || k == FilterResolverConf {
			continue
		}
		search[k] = v
	}

	for _, spec := range e.dir.ResolversFor(scope) {
		if scope.ResolverConfigID != "" && !spec.MatchesConfig(scope.ResolverConfigID) {
			continue
		}
		err := e.listOne(ctx, sink, spec, search, fn)
		switch {
		case err == nil:
		case stderrors.Is(err, ErrStop):
			return nil
		default:
			return err
		}
	}
	return nil
}

// listOne drains one resolver. It only returns errors that end the whole
// listing.
func (e *Engine) listOne(ctx context.Context, sink audit.Sink, spec resolverspec.Spec, search map[string]string, fn func(resolver.Profile) error) error {
	name := spec.String()
	it, err := e.gw.ListUsers(ctx, spec, search)
	if err != nil {
		return e.skip(ctx, sink, name, err)
	}
	defer it.Close()

	for {
		p, ok, err := it.Next(ctx)
		if err != nil {
			return e.skip(ctx, sink, name, err)
		}
		if !ok {
			return nil
		}
		p = p.Clone()
		p[resolver.KeyResolverSpec] = name
		e.lookup.Warm(ctx, spec, p)
		if err := fn(p); err != nil {
			return err
		}
	}
}

func (e *Engine) skip(ctx context.Context, sink audit.Sink, spec string, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.IsResolverUnavailable(err):
		audit.NoteUnavailable(sink, spec)
		e.log.Error("Unable to connect to resolver", logger.Fields(logger.FieldResolverSpec, spec))
	default:
		e.log.Warn("Listing resolver failed", logger.MergeWithError(logger.ResolverFields(spec, resolver.CapListUsers), err))
	}
	return nil
}

// ListUsers collects Iterate.
func (e *Engine) ListUsers(ctx context.Context, sink audit.Sink, filter map[string]string, scope *identity.User) ([]resolver.Profile, error) {
	var out []resolver.Profile
	err := e.Iterate(ctx, sink, filter, scope, func(p resolver.Profile) error {
		out = append(out, p)
		return nil
	})
	return out, err
}

// SearchFields returns the search field schema of every resolver of scope,
// keyed by resolver spec. Resolvers without a schema are left out.
func (e *Engine) SearchFields(ctx context.Context, scope *identity.User) (map[string]map[string]string, error) {
	if scope == nil {
		scope = identity.New("", "", "")
	}
	out := make(map[string]map[string]string)
	for _, spec := range e.dir.ResolversFor(scope) {
		if scope.ResolverConfigID != "" && !spec.MatchesConfig(scope.ResolverConfigID) {
			continue
		}
		fields, err := e.gw.SearchFields(ctx, spec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.log.Warn("Search fields unavailable", logger.MergeWithError(
				logger.ResolverFields(spec.String(), resolver.CapSearchFields), err))
			continue
		}
		out[spec.String()] = fields
	}
	return out, nil
}
