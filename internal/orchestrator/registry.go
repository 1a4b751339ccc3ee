package orchestrator

import "sync"

// Registry 按用户记录已挂载的 Screen，HTTP 修改意图据此找到对应屏幕
type Registry struct {
	mu      sync.RWMutex
	screens map[uint64]map[string]*Screen
}

func NewRegistry() *Registry {
	return &Registry{screens: make(map[uint64]map[string]*Screen)}
}

func (r *Registry) Add(s *Screen) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid := s.Viewer().UserID
	if _, ok := r.screens[uid]; !ok {
		r.screens[uid] = make(map[string]*Screen)
	}
	r.screens[uid][s.ID()] = s
}

func (r *Registry) Remove(s *Screen) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid := s.Viewer().UserID
	if set, ok := r.screens[uid]; ok {
		delete(set, s.ID())
		if len(set) == 0 {
			delete(r.screens, uid)
		}
	}
}

// Get 只返回属于该用户的屏幕
func (r *Registry) Get(userID uint64, screenID string) (*Screen, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.screens[userID][screenID]
	return s, ok
}

// ForUser 该用户当前所有屏幕
func (r *Registry) ForUser(userID uint64) []*Screen {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Screen, 0, len(r.screens[userID]))
	for _, s := range r.screens[userID] {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.screens {
		n += len(set)
	}
	return n
}

// UnmountAll 进程退出时调用
func (r *Registry) UnmountAll() {
	r.mu.Lock()
	var all []*Screen
	for uid, set := range r.screens {
		for _, s := range set {
			all = append(all, s)
		}
		delete(r.screens, uid)
	}
	r.mu.Unlock()
	for _, s := range all {
		s.Unmount()
	}
}
