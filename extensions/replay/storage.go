package replay

import (
	"context"
	"sync"
	"time"

	"github.com/sigmavirus24/sfstreaming"
)

type entry struct {
	replayID ReplayID
	created  time.Time
}

// newer reports whether an event created at created with replayID replaces
// the stored entry
func (e entry) newer(replayID ReplayID, created time.Time) bool {
	if created.Equal(e.created) {
		return replayID > e.replayID
	}
	return created.After(e.created)
}

// MapStorage implements the Storer interface over a regular map with a
// RWMutex protecting the access
type MapStorage struct {
	store map[sfstreaming.Channel]entry
	lock  sync.RWMutex
}

// NewMapStorage creates a new MapStorage instance
func NewMapStorage() *MapStorage {
	return &MapStorage{store: make(map[sfstreaming.Channel]entry)}
}

// StoreReplayID implements the Storer interface. Only the most recently
// created event is kept, whatever the order the events are stored in.
func (s *MapStorage) StoreReplayID(_ context.Context, channel sfstreaming.Channel, replayID int64, created time.Time) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if current, ok := s.store[channel]; ok && !current.newer(ReplayID(replayID), created) {
		return nil
	}
	s.store[channel] = entry{ReplayID(replayID), created}
	return nil
}

// LastReplayID implements the Storer interface
func (s *MapStorage) LastReplayID(_ context.Context, channel sfstreaming.Channel) (ReplayID, bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	current, ok := s.store[channel]
	return current.replayID, ok, nil
}

// Set forces the replay position of channel, for example to AllEvents. Any
// event stored afterwards replaces it.
func (s *MapStorage) Set(_ context.Context, channel sfstreaming.Channel, replayID ReplayID) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.store[channel] = entry{replayID: replayID}
	return nil
}

// Delete forgets channel
func (s *MapStorage) Delete(_ context.Context, channel sfstreaming.Channel) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.store, channel)
	return nil
}

// AsMap returns a copy of the stored positions
func (s *MapStorage) AsMap() map[sfstreaming.Channel]ReplayID {
	s.lock.RLock()
	defer s.lock.RUnlock()
	replay := make(map[sfstreaming.Channel]ReplayID, len(s.store))
	for k, v := range s.store {
		replay[k] = v.replayID
	}
	return replay
}
