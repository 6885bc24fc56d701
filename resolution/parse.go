package resolution

import (
	"strings"

	"github.com/kbukum/idresolver/identity"
)

// ParseUser builds a user reference from request parameters.
//
// An explicit realm is used as given. Otherwise, while splitAtSign is
// enabled, "user@realm" (split at the last '@') and "REALM\user" are split
// when the suffix or prefix names a configured realm; a login without a
// realm falls back to the default realm. A resolver parameter of the form
// "config (class)" is reduced to the config name.
func (e *Engine) ParseUser(login, realmName, resolverConf string) *identity.User {
	login = strings.TrimSpace(login)
	conf := configName(resolverConf)

	if realmName = strings.TrimSpace(realmName); realmName != "" {
		return identity.New(login, realmName, conf)
	}
	if e.settings.Bool(SplitAtSignSetting, true) {
		if local, r, ok := e.splitLogin(login); ok {
			return identity.New(local, r, conf)
		}
	}
	if conf != "" {
		return identity.New(login, "", conf)
	}
	return identity.New(login, e.dir.DefaultName(), "")
}

// splitLogin separates a realm suffix or domain prefix that names a known
// realm. An '@' in the local part of an address stays part of the login.
func (e *Engine) splitLogin(login string) (string, string, bool) {
	if i := strings.LastIndex(login, "@"); i > 0 && i < len(login)-1 {
		if r, ok := e.dir.Realm(login[i+1:]); ok {
			return login[:i], r.Name, true
		}
	}
	if domain, local, ok := strings.Cut(login, `\`); ok && domain != "" && local != "" {
		if r, ok := e.dir.Realm(domain); ok {
			return local, r.Name, true
		}
	}
	return "", "", false
}

func configName(resolverConf string) string {
	name, _, _ := strings.Cut(resolverConf, "(")
	return strings.TrimSpace(name)
}
