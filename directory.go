package chatapp

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

type userLister interface {
	ListUsers(ctx context.Context) ([]User, error)
}

// Directory caches user profiles. It is filled once by Refresh and is
// read-only afterwards; lookups never block on the network.
type Directory struct {
	source userLister
	log    *zap.Logger
	users  atomic.Pointer[map[string]User]
}

func NewDirectory(source userLister, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{source: source, log: log}
}

// Refresh loads the directory. On failure the cache keeps its previous
// content (empty on first use) and the error is returned.
func (d *Directory) Refresh(ctx context.Context) error {
	users, err := d.source.ListUsers(ctx)
	if err != nil {
		d.log.Warn("directory refresh failed", zap.Error(err))
		return err
	}
	m := make(map[string]User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	d.users.Store(&m)
	d.log.Debug("directory loaded", zap.Int("users", len(m)))
	return nil
}

// Resolve returns the profile for id, or a fallback built from the id itself.
func (d *Directory) Resolve(id string) Profile {
	if m := d.users.Load(); m != nil {
		if u, ok := (*m)[id]; ok {
			return Profile{
				ID:          u.ID,
				DisplayName: u.ID,
				AvatarURL:   u.AvatarURL,
				Bio:         u.Bio,
				Initial:     initialOf(u.ID),
				Known:       true,
			}
		}
	}
	return Profile{ID: id, DisplayName: id, Initial: initialOf(id)}
}

// Users returns the cached users sorted by name.
func (d *Directory) Users() []User {
	m := d.users.Load()
	if m == nil {
		return nil
	}
	out := make([]User, 0, len(*m))
	for _, u := range *m {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) Len() int {
	if m := d.users.Load(); m != nil {
		return len(*m)
	}
	return 0
}

func initialOf(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "?"
	}
	r, _ := utf8.DecodeRuneInString(id)
	return string(unicode.ToUpper(r))
}
