package main

import (
	"crypto/rand"
	"sync"
	"time"
)

// roomManager holds the set of live rooms keyed by room ID, so each
// /play/:roomid is its own isolated session. Rooms are created on first
// reference and reaped once idle.
type roomManager struct {
	mu          sync.Mutex
	rooms       map[string]*room
	catalog     []Card
	idleTimeout time.Duration
}

func newRoomManager(catalog []Card, idleTimeout time.Duration) *roomManager {
	mgr := &roomManager{
		rooms:       make(map[string]*room),
		catalog:     catalog,
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go mgr.reaperLoop()
	}
	return mgr
}

// getRoom returns the room for roomID, constructing it with a freshly
// shuffled copy of the catalog on first reference.
func (mgr *roomManager) getRoom(cfg *Config, roomID string) *room {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if rm, ok := mgr.rooms[roomID]; ok {
		return rm
	}

	rm := newRoom(roomID, shuffleCards(mgr.catalog))
	mgr.rooms[roomID] = rm
	go rm.run(cfg)

	logf(cfg, "ROOMS: Created room %s", roomID)

	return rm
}

// lookup never creates; handlers that must not conjure a room as a side
// effect (the state endpoint, the reaper) go through here.
func (mgr *roomManager) lookup(roomID string) (*room, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	rm, ok := mgr.rooms[roomID]
	return rm, ok
}

// newRoomID generates a crypto-random room ID and ensures it doesn't
// collide with existing rooms.
func (mgr *roomManager) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		if _, exists := mgr.lookup(id); !exists {
			return id
		}
	}
}

// reaperLoop periodically removes rooms that have seen no events for longer
// than idleTimeout, closing any connections still attached.
func (mgr *roomManager) reaperLoop() {
	ticker := time.NewTicker(mgr.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-mgr.idleTimeout)

		mgr.mu.Lock()
		for id, rm := range mgr.rooms {
			rm.mu.RLock()
			last := rm.lastActive
			rm.mu.RUnlock()

			if last.Before(cutoff) {
				delete(mgr.rooms, id)
				go rm.closeAll()
			}
		}
		mgr.mu.Unlock()
	}
}

// closeAll disconnects all clients of this room (used by the reaper).
func (rm *room) closeAll() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for c := range rm.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(rm.clients, c)
	}
	rm.conns = make(map[string]*client)
}
