package relay

import "sync"

// Registry tracks live websocket connections per channel. It exists so
// that shutdown and health reporting can see who is still attached;
// event delivery itself goes through pub/sub, not the registry.
type Registry struct {
	mu    sync.Mutex
	conns map[string]int
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]int)}
}

func (r *Registry) Add(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[channel]++
}

func (r *Registry) Remove(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[channel] <= 1 {
		delete(r.conns, channel)
		return
	}
	r.conns[channel]--
}

// Count returns the number of live connections on one channel.
func (r *Registry) Count(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[channel]
}

// Total returns the number of live connections across all channels.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.conns {
		total += n
	}
	return total
}
