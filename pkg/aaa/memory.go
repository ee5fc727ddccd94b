package aaa

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and by standalone
// deployments without a shared AAA database. Semantics match PGStore,
// including single-group upsert.
type MemoryStore struct {
	mu sync.RWMutex

	checks   map[string][]CheckAttribute
	replies  map[string][]ReplyAttribute
	groups   map[string]UserGroup
	groupRep map[string]map[string]string // group -> attribute -> value
	sessions []Session
	postAuth []PostAuth

	nextAcctID int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checks:   make(map[string][]CheckAttribute),
		replies:  make(map[string][]ReplyAttribute),
		groups:   make(map[string]UserGroup),
		groupRep: make(map[string]map[string]string),
	}
}

func (s *MemoryStore) ReplaceCheckAttributes(_ context.Context, username string, attrs []CheckAttribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(attrs) == 0 {
		delete(s.checks, username)
		return nil
	}
	s.checks[username] = append([]CheckAttribute(nil), attrs...)
	return nil
}

func (s *MemoryStore) ReplaceReplyAttributes(_ context.Context, username string, attrs []ReplyAttribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(attrs) == 0 {
		delete(s.replies, username)
		return nil
	}
	s.replies[username] = append([]ReplyAttribute(nil), attrs...)
	return nil
}

func (s *MemoryStore) RemoveUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checks, username)
	delete(s.replies, username)
	delete(s.groups, username)
	return nil
}

func (s *MemoryStore) UpsertUserGroup(_ context.Context, username, groupName string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[username] = UserGroup{Username: username, GroupName: groupName, Priority: priority}
	return nil
}

func (s *MemoryStore) CurrentGroup(_ context.Context, username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups[username].GroupName, nil
}

func (s *MemoryStore) Groups(_ context.Context, username string) ([]UserGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[username]
	if !ok {
		return nil, nil
	}
	return []UserGroup{g}, nil
}

func (s *MemoryStore) CheckAttributes(_ context.Context, username string) ([]CheckAttribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CheckAttribute(nil), s.checks[username]...), nil
}

func (s *MemoryStore) ReplyAttributes(_ context.Context, username string) ([]ReplyAttribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ReplyAttribute(nil), s.replies[username]...), nil
}

func (s *MemoryStore) UpsertGroupReply(_ context.Context, groupName, attribute, _, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupRep[groupName] == nil {
		s.groupRep[groupName] = make(map[string]string)
	}
	s.groupRep[groupName][attribute] = value
	return nil
}

// GroupReply returns a group-level reply attribute value, for assertions.
func (s *MemoryStore) GroupReply(groupName, attribute string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groupRep[groupName][attribute]
}

// AddSession opens an accounting session and returns its radacct id.
func (s *MemoryStore) AddSession(sess Session) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAcctID++
	sess.RadAcctID = s.nextAcctID
	s.sessions = append(s.sessions, sess)
	return sess.RadAcctID
}

func (s *MemoryStore) OpenSessions(_ context.Context, username string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open []Session
	for _, sess := range s.sessions {
		if sess.Username == username && sess.StopTime == nil {
			open = append(open, sess)
		}
	}
	return open, nil
}

func (s *MemoryStore) HasOpenSession(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.Username == username && sess.StopTime == nil {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CloseSession(_ context.Context, radAcctID int64, stop time.Time, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].RadAcctID == radAcctID && s.sessions[i].StopTime == nil {
			t := stop
			s.sessions[i].StopTime = &t
			s.sessions[i].TerminateCause = cause
		}
	}
	return nil
}

// SessionByID returns a copy of the radacct row, for assertions.
func (s *MemoryStore) SessionByID(radAcctID int64) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.RadAcctID == radAcctID {
			return sess, true
		}
	}
	return Session{}, false
}

func (s *MemoryStore) WritePostAuth(_ context.Context, entry PostAuth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postAuth = append(s.postAuth, entry)
	return nil
}

func (s *MemoryStore) RecentAuthLog(_ context.Context, username string, limit int) ([]PostAuth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []PostAuth
	for _, e := range s.postAuth {
		if e.Username == username {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
