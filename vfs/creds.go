package vfs

import (
	"context"
	"sync"

	"github.com/quarrydev/fileops/pathaddr"
)

// Credentials carry what a remote backend needs to authenticate a mount.
type Credentials struct {
	Username  string
	Password  string
	Domain    string
	Anonymous bool

	// Remember asks the cache to keep the credentials for later mounts
	// against the same host.
	Remember bool
}

// AuthFunc supplies credentials for a mount attempt. Returning false
// aborts the mount (the user declined to authenticate).
type AuthFunc func(ctx context.Context, addr pathaddr.Address) (Credentials, bool)

// CredentialCache remembers credentials per host key so repeat mounts
// within a session skip the password prompt. Failed mounts must Forget
// their entry so a bad password is not replayed.
type CredentialCache struct {
	mu    sync.Mutex
	creds map[string]Credentials
}

func NewCredentialCache() *CredentialCache {
	return &CredentialCache{creds: make(map[string]Credentials)}
}

// Get returns the cached credentials for addr's host key.
func (c *CredentialCache) Get(addr pathaddr.Address) (Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cr, ok := c.creds[addr.HostKey()]
	return cr, ok
}

// Seed stores credentials for addr without a mount, for example from a
// saved connection profile.
func (c *CredentialCache) Seed(addr pathaddr.Address, cr Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds[addr.HostKey()] = cr
}

// Forget drops any cached credentials for addr's host key.
func (c *CredentialCache) Forget(addr pathaddr.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.creds, addr.HostKey())
}

// Wrap produces an AuthFunc that consults the cache before falling back
// to prompt, and stores what prompt returns when Remember is set.
func (c *CredentialCache) Wrap(prompt AuthFunc) AuthFunc {
	return func(ctx context.Context, addr pathaddr.Address) (Credentials, bool) {
		if cr, ok := c.Get(addr); ok {
			return cr, true
		}
		if prompt == nil {
			return Credentials{}, false
		}
		cr, ok := prompt(ctx, addr)
		if ok && cr.Remember {
			c.Seed(addr, cr)
		}
		return cr, ok
	}
}
