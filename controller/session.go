package controller

import (
	"sync"

	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/vfs"
)

// maxRecentHosts bounds the recent-hosts list.
const maxRecentHosts = 10

// Session holds the per-process interactive state a frontend needs
// alongside the controller: the cut/copy clipboard, recently visited
// remote hosts, and the credential cache for this process. It replaces
// what would otherwise be scattered globals.
type Session struct {
	mu        sync.Mutex
	clipAddrs []pathaddr.Address
	clipMove  bool
	recent    []string
	creds     *vfs.CredentialCache
}

func NewSession() *Session {
	return &Session{creds: vfs.NewCredentialCache()}
}

// SetClipboard records addresses for a later paste. move marks a cut.
func (s *Session) SetClipboard(addrs []pathaddr.Address, move bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clipAddrs = append([]pathaddr.Address(nil), addrs...)
	s.clipMove = move
}

// Clipboard returns the current clipboard contents and whether the
// entries were cut rather than copied.
func (s *Session) Clipboard() ([]pathaddr.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pathaddr.Address(nil), s.clipAddrs...), s.clipMove
}

// ClearClipboard empties the clipboard, typically after a cut is pasted.
func (s *Session) ClearClipboard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clipAddrs = nil
	s.clipMove = false
}

// AddRecentHost records a visited host key, most recent first, without
// duplicates.
func (s *Session) AddRecentHost(hostKey string) {
	if hostKey == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, h := range s.recent {
		if h == hostKey {
			s.recent = append(s.recent[:i], s.recent[i+1:]...)
			break
		}
	}
	s.recent = append([]string{hostKey}, s.recent...)
	if len(s.recent) > maxRecentHosts {
		s.recent = s.recent[:maxRecentHosts]
	}
}

// RecentHosts lists visited host keys, most recent first.
func (s *Session) RecentHosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recent...)
}

// Credentials is the session's credential cache.
func (s *Session) Credentials() *vfs.CredentialCache {
	return s.creds
}
