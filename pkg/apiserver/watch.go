// Copyright 2022 The servicefabrik.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apiserver

import (
	"sync"

	"k8s.io/apimachinery/pkg/watch"
)

var _ watch.Interface = &QueueWatcher{}

// QueueWatcher is a watch.Interface backed by an unbounded queue,
// so a producer holding a lock never blocks on a slow consumer.
type QueueWatcher struct {
	result chan watch.Event
	notify chan struct{}
	done   chan struct{}
	onStop func()

	mu      sync.Mutex
	queue   []watch.Event
	stopped bool
	once    sync.Once
}

// NewQueueWatcher starts a watcher, onStop is called once when it stops.
func NewQueueWatcher(onStop func()) *QueueWatcher {
	w := &QueueWatcher{
		result: make(chan watch.Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		onStop: onStop,
	}
	go w.run()
	return w
}

// Push queues an event, it reports false once the watcher is stopped.
func (w *QueueWatcher) Push(event watch.Event) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, event)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

func (w *QueueWatcher) run() {
	defer close(w.result)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			select {
			case <-w.notify:
				continue
			case <-w.done:
				return
			}
		}
		event := w.queue[0]
		w.queue[0] = watch.Event{}
		w.queue = w.queue[1:]
		w.mu.Unlock()

		select {
		case w.result <- event:
		case <-w.done:
			return
		}
	}
}

func (w *QueueWatcher) ResultChan() <-chan watch.Event {
	return w.result
}

func (w *QueueWatcher) Stop() {
	w.once.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.queue = nil
		w.mu.Unlock()
		close(w.done)
		if w.onStop != nil {
			w.onStop()
		}
	})
}

// Done is closed when the watcher stops.
func (w *QueueWatcher) Done() <-chan struct{} {
	return w.done
}
