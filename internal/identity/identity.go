// Package identity resolves the per-connection principal. Resolution
// never fails: an unrecognized username yields a fabricated record
// that is stable across repeated logins.
package identity

import (
	"hash/fnv"
	"path"
	"strings"

	"github.com/tidelock/bittern/internal/config"
)

// Identity is the authenticated principal for one connection. It is
// read-only after construction.
type Identity struct {
	Username  string
	UID       int
	GID       int
	Home      string
	Synthetic bool
}

// Provider looks up pre-provisioned user records.
type Provider interface {
	Lookup(username string) (config.UserRecord, bool)
}

// StaticProvider serves records from configuration.
type StaticProvider struct {
	users map[string]config.UserRecord
}

// NewStaticProvider indexes the configured user records.
func NewStaticProvider(users []config.UserRecord) *StaticProvider {
	m := make(map[string]config.UserRecord, len(users))
	for _, u := range users {
		m[u.Username] = u
	}
	return &StaticProvider{users: m}
}

// Lookup returns the record for username, if provisioned.
func (p *StaticProvider) Lookup(username string) (config.UserRecord, bool) {
	u, ok := p.users[username]
	return u, ok
}

// Resolver turns usernames into identities.
type Resolver struct {
	provider      Provider
	syntheticRoot string
}

// NewResolver builds a resolver over a record provider. syntheticRoot
// is the directory fabricated home paths are placed under.
func NewResolver(provider Provider, syntheticRoot string) *Resolver {
	if syntheticRoot == "" {
		syntheticRoot = "/home"
	}
	return &Resolver{provider: provider, syntheticRoot: syntheticRoot}
}

// Resolve returns the identity for username. With no provider, or on
// a provider miss, the uid/gid are derived from the username so the
// same stranger always gets the same identity back.
func (r *Resolver) Resolve(username string) *Identity {
	if r.provider == nil {
		return r.fabricate(username)
	}
	if rec, ok := r.provider.Lookup(username); ok {
		home := rec.Home
		if home == "" {
			home = homeFor(r.syntheticRoot, rec.Username)
		}
		return &Identity{
			Username: rec.Username,
			UID:      rec.UID,
			GID:      rec.GID,
			Home:     home,
		}
	}

	return r.fabricate(username)
}

func (r *Resolver) fabricate(username string) *Identity {
	uid := syntheticUID(username)
	return &Identity{
		Username:  username,
		UID:       uid,
		GID:       uid,
		Home:      homeFor(r.syntheticRoot, username),
		Synthetic: true,
	}
}

// syntheticUID maps a username into the ordinary-user uid range.
func syntheticUID(username string) int {
	h := fnv.New32a()
	h.Write([]byte(username))
	return 1000 + int(h.Sum32()%29000)
}

// homeFor builds a home path, stripping anything that would escape the
// synthetic root.
func homeFor(root, username string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return -1
	}, username)
	if clean == "" || clean == "." || clean == ".." {
		clean = "user"
	}
	if clean == "root" {
		return "/root"
	}
	return path.Join(root, clean)
}
