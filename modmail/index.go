package modmail

import (
	"sort"
	"sync"

	"gatekeeper/model"
)

// IndexEntry is one open ticket as seen by message routing.
type IndexEntry struct {
	TicketID  int64
	GuildID   string
	UserID    string
	ThreadRef string
}

type pairKey struct {
	guildID string
	userID  string
}

// OpenTicketIndex maps users and threads to their open ticket. It is filled
// from the guard table by Hydrate at startup and afterwards only changed by
// the Manager on open, close and orphan cleanup. Reset tears it down.
type OpenTicketIndex struct {
	mu       sync.RWMutex
	byTicket map[int64]IndexEntry
	byPair   map[pairKey]int64
	byThread map[string]int64
	hydrated bool
}

// NewOpenTicketIndex returns an empty, not yet hydrated index.
func NewOpenTicketIndex() *OpenTicketIndex {
	idx := &OpenTicketIndex{}
	idx.clear()
	return idx
}

func (idx *OpenTicketIndex) clear() {
	idx.byTicket = make(map[int64]IndexEntry)
	idx.byPair = make(map[pairKey]int64)
	idx.byThread = make(map[string]int64)
}

// Hydrate replaces the contents with the given guards and marks the index
// ready. Guards without a thread are skipped.
func (idx *OpenTicketIndex) Hydrate(guards []model.OpenTicketGuard) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.clear()
	for _, g := range guards {
		if g.ThreadRef == "" {
			continue
		}
		idx.put(IndexEntry{TicketID: g.TicketID, GuildID: g.GuildID, UserID: g.UserID, ThreadRef: g.ThreadRef})
	}
	idx.hydrated = true
}

// Put adds or replaces an entry.
func (idx *OpenTicketIndex) Put(e IndexEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.put(e)
}

func (idx *OpenTicketIndex) put(e IndexEntry) {
	if old, ok := idx.byTicket[e.TicketID]; ok {
		idx.remove(old)
	}
	key := pairKey{e.GuildID, e.UserID}
	if prev, ok := idx.byPair[key]; ok {
		idx.remove(idx.byTicket[prev])
	}
	idx.byTicket[e.TicketID] = e
	idx.byPair[key] = e.TicketID
	idx.byThread[e.ThreadRef] = e.TicketID
}

// Remove drops the entry of a ticket and reports whether it was present.
func (idx *OpenTicketIndex) Remove(ticketID int64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.byTicket[ticketID]
	if ok {
		idx.remove(e)
	}
	return ok
}

func (idx *OpenTicketIndex) remove(e IndexEntry) {
	delete(idx.byTicket, e.TicketID)
	key := pairKey{e.GuildID, e.UserID}
	if idx.byPair[key] == e.TicketID {
		delete(idx.byPair, key)
	}
	if idx.byThread[e.ThreadRef] == e.TicketID {
		delete(idx.byThread, e.ThreadRef)
	}
}

// ByUser returns the open ticket of a user in a guild.
func (idx *OpenTicketIndex) ByUser(guildID, userID string) (IndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	id, ok := idx.byPair[pairKey{guildID, userID}]
	if !ok {
		return IndexEntry{}, false
	}
	return idx.byTicket[id], true
}

// ByThread returns the open ticket bound to a thread.
func (idx *OpenTicketIndex) ByThread(threadRef string) (IndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	id, ok := idx.byThread[threadRef]
	if !ok {
		return IndexEntry{}, false
	}
	return idx.byTicket[id], true
}

// ForUser returns the open tickets of a user across guilds, newest first.
// Direct messages carry no guild, so routing needs this view.
func (idx *OpenTicketIndex) ForUser(userID string) []IndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var entries []IndexEntry
	for key, id := range idx.byPair {
		if key.userID == userID {
			entries = append(entries, idx.byTicket[id])
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TicketID > entries[j].TicketID })
	return entries
}

// Len returns the number of open tickets tracked.
func (idx *OpenTicketIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byTicket)
}

// Hydrated reports whether Hydrate has run since creation or the last Reset.
func (idx *OpenTicketIndex) Hydrated() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.hydrated
}

// Reset empties the index and marks it not hydrated.
func (idx *OpenTicketIndex) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.clear()
	idx.hydrated = false
}
