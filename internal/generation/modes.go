package generation

import "sync"

// atomicMap is a typed sync.Map of generation id to Mode.
type atomicMap struct{ m sync.Map }

func (a *atomicMap) Store(id string, mode Mode) { a.m.Store(id, mode) }

func (a *atomicMap) LoadAndDelete(id string) (Mode, bool) {
	v, ok := a.m.LoadAndDelete(id)
	if !ok {
		return "", false
	}
	return v.(Mode), true
}
