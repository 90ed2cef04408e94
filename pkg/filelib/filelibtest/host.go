// Package filelibtest provides in-memory collaborators for tests.
package filelibtest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/repo/memory"
	"github.com/tendant/simple-filelib/pkg/filelib/storage"
	storagememory "github.com/tendant/simple-filelib/pkg/filelib/storage/memory"
)

// Host is a filelib.Host backed by memory storage and repositories.
type Host struct {
	StorageAdapter filelib.StorageAdapter
	Repo           filelib.Repository
	Events         *filelib.Dispatcher
	Log            *slog.Logger
}

// NewHost returns a host with a memory backend, a memory repository and a
// dispatcher that logs nothing.
func NewHost() *Host {
	logger := slog.New(slog.DiscardHandler)
	return &Host{
		StorageAdapter: storage.NewAdapter("memory", storagememory.New(), storage.WithLogger(logger)),
		Repo:           memory.New(),
		Events:         filelib.NewDispatcher(logger),
		Log:            logger,
	}
}

func (h *Host) Storage() filelib.StorageAdapter { return h.StorageAdapter }
func (h *Host) Repository() filelib.Repository  { return h.Repo }
func (h *Host) Dispatcher() *filelib.Dispatcher { return h.Events }
func (h *Host) Logger() *slog.Logger            { return h.Log }

// Recorder collects dispatched events per topic.
type Recorder struct {
	mu     sync.Mutex
	events map[filelib.Topic][]filelib.Event
}

// Record subscribes a new recorder to topics on d.
func Record(d *filelib.Dispatcher, topics ...filelib.Topic) *Recorder {
	r := &Recorder{events: make(map[filelib.Topic][]filelib.Event)}
	for _, topic := range topics {
		d.Subscribe(topic, func(ctx context.Context, event filelib.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events[topic] = append(r.events[topic], event)
			return nil
		})
	}
	return r
}

// Events returns the events recorded for topic.
func (r *Recorder) Events(topic filelib.Topic) []filelib.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]filelib.Event(nil), r.events[topic]...)
}

// Count returns the number of events recorded for topic.
func (r *Recorder) Count(topic filelib.Topic) int {
	return len(r.Events(topic))
}

var _ filelib.Host = (*Host)(nil)
