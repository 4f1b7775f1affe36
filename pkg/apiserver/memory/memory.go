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

package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"servicefabrik.io/broker/pkg/apiserver"
)

var _ apiserver.Client = &Client{}

type watcher struct {
	prefix   string
	selector labels.Selector
	queue    *apiserver.QueueWatcher
}

// Client keeps resources in process memory. It serves a single broker
// process and is what the tests and the standalone mode run on.
type Client struct {
	mu       sync.Mutex
	db       map[string]*unstructured.Unstructured
	crds     map[string]struct{}
	version  uint64
	watchers map[string]*watcher
}

func NewClient() *Client {
	return &Client{
		db:       map[string]*unstructured.Unstructured{},
		crds:     map[string]struct{}{},
		watchers: map[string]*watcher{},
	}
}

func typePrefix(resourceGroup, resourceType string) string {
	return resourceGroup + "/" + resourceType + "/"
}

func key(details apiserver.ResourceDetails) string {
	return typePrefix(details.ResourceGroup, details.ResourceType) + details.ResourceID
}

func (c *Client) RegisterCrds(ctx context.Context, resourceGroup, resourceType string) error {
	logr.FromContextOrDiscard(ctx).V(5).Info("register crd", "group", resourceGroup, "type", resourceType)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crds[typePrefix(resourceGroup, resourceType)] = struct{}{}
	return nil
}

func (c *Client) Watch(ctx context.Context, resourceGroup, resourceType, query string) (watch.Interface, error) {
	selector, err := apiserver.ParseSelector(query)
	if err != nil {
		return nil, err
	}
	uid := uuid.NewString()
	logr.FromContextOrDiscard(ctx).V(5).Info("watch", "group", resourceGroup, "type", resourceType, "query", query, "uid", uid)

	w := &watcher{
		prefix:   typePrefix(resourceGroup, resourceType),
		selector: selector,
	}
	w.queue = apiserver.NewQueueWatcher(func() {
		c.mu.Lock()
		delete(c.watchers, uid)
		c.mu.Unlock()
	})

	c.mu.Lock()
	for _, k := range c.sortedKeys(w.prefix) {
		obj := c.db[k]
		if selector.Matches(labels.Set(obj.GetLabels())) {
			w.queue.Push(watch.Event{Type: watch.Added, Object: obj.DeepCopy()})
		}
	}
	c.watchers[uid] = w
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			w.queue.Stop()
		case <-w.queue.Done():
		}
	}()
	return w.queue, nil
}

func (c *Client) CreateResource(ctx context.Context, opts apiserver.CreateOptions) (*apiserver.ManagedResource, error) {
	logr.FromContextOrDiscard(ctx).V(5).Info("create", "resource", opts.ResourceDetails.String())
	obj := apiserver.NewUnstructured(apiserver.Namespace, opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(opts.ResourceDetails)
	if _, ok := c.db[k]; ok {
		return nil, apierrors.NewAlreadyExists(opts.GroupResource(), opts.ResourceID)
	}
	obj.SetUID(types.UID(uuid.NewString()))
	obj.SetCreationTimestamp(metav1.NewTime(time.Now()))
	c.store(k, obj, watch.Added)
	return apiserver.FromUnstructured(obj)
}

func (c *Client) UpdateResource(ctx context.Context, opts apiserver.UpdateOptions) (*apiserver.ManagedResource, error) {
	logr.FromContextOrDiscard(ctx).V(5).Info("update", "resource", opts.ResourceDetails.String(), "resourceVersion", opts.ResourceVersion)
	patch, err := apiserver.MergePatch(opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(opts.ResourceDetails)
	existing, ok := c.db[k]
	if !ok {
		return nil, apierrors.NewNotFound(opts.GroupResource(), opts.ResourceID)
	}
	patched, err := apiserver.ApplyMergePatch(existing, patch)
	if err != nil {
		return nil, err
	}
	c.store(k, patched, watch.Modified)
	return apiserver.FromUnstructured(patched)
}

func (c *Client) GetResource(ctx context.Context, details apiserver.ResourceDetails) (*apiserver.ManagedResource, error) {
	c.mu.Lock()
	obj, ok := c.db[key(details)]
	c.mu.Unlock()
	if !ok {
		return nil, apierrors.NewNotFound(details.GroupResource(), details.ResourceID)
	}
	return apiserver.FromUnstructured(obj)
}

func (c *Client) ListResources(ctx context.Context, resourceGroup, resourceType, query string) ([]*apiserver.ManagedResource, error) {
	selector, err := apiserver.ParseSelector(query)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := []*apiserver.ManagedResource{}
	for _, k := range c.sortedKeys(typePrefix(resourceGroup, resourceType)) {
		obj := c.db[k]
		if !selector.Matches(labels.Set(obj.GetLabels())) {
			continue
		}
		res, err := apiserver.FromUnstructured(obj)
		if err != nil {
			return nil, err
		}
		ret = append(ret, res)
	}
	return ret, nil
}

func (c *Client) DeleteResource(ctx context.Context, details apiserver.ResourceDetails) error {
	logr.FromContextOrDiscard(ctx).V(5).Info("delete", "resource", details.String())
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(details)
	obj, ok := c.db[k]
	if !ok {
		return apierrors.NewNotFound(details.GroupResource(), details.ResourceID)
	}
	delete(c.db, k)
	c.notify(k, obj, watch.Deleted)
	return nil
}

// store saves obj with a new resource version, the caller holds c.mu.
func (c *Client) store(k string, obj *unstructured.Unstructured, eventType watch.EventType) {
	c.version++
	obj.SetResourceVersion(strconv.FormatUint(c.version, 10))
	c.db[k] = obj
	c.notify(k, obj, eventType)
}

func (c *Client) notify(k string, obj *unstructured.Unstructured, eventType watch.EventType) {
	for _, w := range c.watchers {
		if !strings.HasPrefix(k, w.prefix) || !w.selector.Matches(labels.Set(obj.GetLabels())) {
			continue
		}
		w.queue.Push(watch.Event{Type: eventType, Object: obj.DeepCopy()})
	}
}

func (c *Client) sortedKeys(prefix string) []string {
	keys := []string{}
	for k := range c.db {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
