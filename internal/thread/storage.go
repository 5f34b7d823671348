package thread

const storageArenaSlots = 512

type storageEntry struct {
	key  uintptr
	slot *uintptr
}

// localStorage emulates thread local storage entries. The arena belongs to
// the Thread record rather than the OS thread, so entries are preserved when
// the process forks and threads are respawned.
type localStorage struct {
	entries []storageEntry
	arena   []uintptr
	cursor  int
}

func (s *localStorage) getOrCreate(key uintptr) *uintptr {
	for i := range s.entries {
		if s.entries[i].key == key {
			return s.entries[i].slot
		}
	}
	if s.cursor == len(s.arena) {
		s.arena = make([]uintptr, storageArenaSlots)
		s.cursor = 0
	}
	slot := &s.arena[s.cursor]
	s.cursor++
	s.entries = append(s.entries, storageEntry{key: key, slot: slot})
	return slot
}

// GetOrCreateStorage returns a pointer-sized local storage slot of the
// thread for the given key, allocating it from the thread's arena on first
// use.
func (t *Thread) GetOrCreateStorage(key uintptr) *uintptr {
	return t.storage.getOrCreate(key)
}
