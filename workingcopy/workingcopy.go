// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package workingcopy tracks in-memory edits against a baseline
// TableDatasetV3 without ever mutating it: a change tracker keyed by
// eid overlays has/get, mutation methods validate before recording a
// change, and toGeoJSON/diff materialize the overlay against the
// baseline (spec §4.7).
package workingcopy

import (
	"context"
	"iter"
	"sync"

	"github.com/paulmach/orb"

	"github.com/koordinates/tabledataset/feature"
	"github.com/koordinates/tabledataset/schema"
)

// Baseline is the read side of a dataset a WorkingFeatureCollection
// overlays. dataset.TableDatasetV3 satisfies this structurally, so this
// package does not import dataset; kart.Repository binds a
// WorkingFeatureCollection to each dataset it loads.
type Baseline interface {
	Has(ctx context.Context, eid string) (bool, error)
	Get(ctx context.Context, eid string) (*feature.Feature, error)
	Iterate(ctx context.Context) iter.Seq2[*feature.Feature, error]
}

// unset is the sentinel value UpdateProperties treats as "delete this
// key", standing in for the source's "undefined deletes a key" rule
// (spec §4.7, §9).
type unset struct{}

// Unset is passed as a property value to UpdateProperties to delete
// that key from the overlaid feature.
var Unset any = unset{}

type changeKind int

const (
	kindInsert changeKind = iota
	kindUpdate
	kindDelete
)

// trackedChange is one tracker entry. Insert holds the full feature;
// Update holds only the delta against baseline (properties set,
// properties deleted, and an optional geometry replacement); Delete
// holds nothing.
type trackedChange struct {
	kind              changeKind
	feature           *feature.Feature
	properties        map[string]any
	deletedProperties map[string]bool
	geometry          orb.Geometry
	geometrySet       bool
}

// EventName names one of the events WorkingFeatureCollection publishes
// on a successful mutation (spec §4.7).
type EventName string

const (
	EventAdded   EventName = "feature:added"
	EventDeleted EventName = "feature:deleted"
	EventUpdated EventName = "feature:updated"
	// EventAny is the union event every mutation also publishes to,
	// regardless of its specific kind.
	EventAny EventName = "feature"
)

// Event is the payload delivered to a subscriber: which specific event
// fired and which feature it concerns.
type Event struct {
	Name EventName
	Eid  string
}

type listener struct {
	id int
	fn func(Event)
}

// WorkingFeatureCollection is an in-memory change set tracked against
// a read-only baseline dataset. It never mutates the baseline; every
// read overlays the tracker, and every write validates before
// recording a change (spec §4.7).
type WorkingFeatureCollection struct {
	baseline Baseline
	schema   *schema.Schema

	mu      sync.Mutex
	tracker map[string]*trackedChange

	dominantGeometryType string

	listenersMu sync.Mutex
	nextID      int
	listeners   map[EventName][]listener
}

// New binds a WorkingFeatureCollection to baseline, tracking changes
// against sch.
func New(baseline Baseline, sch *schema.Schema) *WorkingFeatureCollection {
	return &WorkingFeatureCollection{
		baseline:  baseline,
		schema:    sch,
		tracker:   map[string]*trackedChange{},
		listeners: map[EventName][]listener{},
	}
}

// Subscribe registers fn for events named name, returning an unsubscribe
// function. Calling the returned function more than once is a no-op
// (spec §4.7: subscription/unsubscription is idempotent).
func (wc *WorkingFeatureCollection) Subscribe(name EventName, fn func(Event)) func() {
	wc.listenersMu.Lock()
	id := wc.nextID
	wc.nextID++
	wc.listeners[name] = append(wc.listeners[name], listener{id: id, fn: fn})
	wc.listenersMu.Unlock()

	unsubscribed := false
	return func() {
		wc.listenersMu.Lock()
		defer wc.listenersMu.Unlock()
		if unsubscribed {
			return
		}
		unsubscribed = true
		entries := wc.listeners[name]
		for i, l := range entries {
			if l.id == id {
				wc.listeners[name] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
}

// publish delivers evt to name's listeners and to EventAny's, in
// subscription order, synchronously on the calling goroutine (spec §5,
// §4.7). Emitting with no listeners is a no-op.
func (wc *WorkingFeatureCollection) publish(name EventName, eid string) {
	evt := Event{Name: name, Eid: eid}
	wc.emit(name, evt)
	wc.emit(EventAny, evt)
}

func (wc *WorkingFeatureCollection) emit(name EventName, evt Event) {
	wc.listenersMu.Lock()
	handlers := append([]listener(nil), wc.listeners[name]...)
	wc.listenersMu.Unlock()
	for _, l := range handlers {
		l.fn(evt)
	}
}
