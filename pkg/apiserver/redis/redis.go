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

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-redis/redis/v8"
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

// Client stores resources as JSON values in redis.
// Writes publish an event on a per type channel that watches subscribe to.
type Client struct {
	kvprefix    string
	eventprefix string
	crdprefix   string
	cli         *redis.Client
}

func NewClient(cli *redis.Client) *Client {
	return &Client{
		kvprefix:    "/broker-store/",
		eventprefix: "/broker-events/",
		crdprefix:   "/broker-crds/",
		cli:         cli,
	}
}

type event struct {
	Type   watch.EventType `json:"type"`
	Object json.RawMessage `json:"object"`
}

func (c *Client) key(details apiserver.ResourceDetails) string {
	return c.kvprefix + details.ResourceGroup + "/" + details.ResourceType + "/" + details.ResourceID
}

func (c *Client) channel(resourceGroup, resourceType string) string {
	return c.eventprefix + resourceGroup + "/" + resourceType
}

func (c *Client) RegisterCrds(ctx context.Context, resourceGroup, resourceType string) error {
	logr.FromContextOrDiscard(ctx).V(5).Info("register crd", "group", resourceGroup, "type", resourceType)
	return c.cli.Set(ctx, c.crdprefix+resourceGroup+"/"+resourceType, apiserver.KindForResourceType(resourceType), 0).Err()
}

func (c *Client) Watch(ctx context.Context, resourceGroup, resourceType, query string) (watch.Interface, error) {
	log := logr.FromContextOrDiscard(ctx)
	selector, err := apiserver.ParseSelector(query)
	if err != nil {
		return nil, err
	}

	// subscribe before listing, an update in between shows up twice instead of never
	pubsub := c.cli.Subscribe(ctx, c.channel(resourceGroup, resourceType))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	w := apiserver.NewQueueWatcher(func() { _ = pubsub.Close() })

	existing, err := c.list(ctx, resourceGroup, resourceType, selector)
	if err != nil {
		w.Stop()
		return nil, err
	}
	for _, obj := range existing {
		w.Push(watch.Event{Type: watch.Added, Object: obj})
	}

	messages := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				w.Stop()
				return
			case <-w.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					w.Stop()
					return
				}
				ev := event{}
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Error(err, "decode event", "channel", msg.Channel)
					continue
				}
				obj := &unstructured.Unstructured{}
				if err := obj.UnmarshalJSON(ev.Object); err != nil {
					log.Error(err, "decode event object", "channel", msg.Channel)
					continue
				}
				if !selector.Matches(labels.Set(obj.GetLabels())) {
					continue
				}
				w.Push(watch.Event{Type: ev.Type, Object: obj})
			}
		}
	}()
	return w, nil
}

func (c *Client) CreateResource(ctx context.Context, opts apiserver.CreateOptions) (*apiserver.ManagedResource, error) {
	logr.FromContextOrDiscard(ctx).V(5).Info("create", "resource", opts.ResourceDetails.String())
	obj := apiserver.NewUnstructured(apiserver.Namespace, opts)
	obj.SetUID(types.UID(uuid.NewString()))
	obj.SetCreationTimestamp(metav1.NewTime(time.Now()))
	obj.SetResourceVersion("1")

	data, err := obj.MarshalJSON()
	if err != nil {
		return nil, err
	}
	ok, err := c.cli.SetNX(ctx, c.key(opts.ResourceDetails), data, 0).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierrors.NewAlreadyExists(opts.GroupResource(), opts.ResourceID)
	}
	c.publish(ctx, opts.ResourceDetails, watch.Added, data)
	return apiserver.FromUnstructured(obj)
}

func (c *Client) UpdateResource(ctx context.Context, opts apiserver.UpdateOptions) (*apiserver.ManagedResource, error) {
	logr.FromContextOrDiscard(ctx).V(5).Info("update", "resource", opts.ResourceDetails.String(), "resourceVersion", opts.ResourceVersion)
	patch, err := apiserver.MergePatch(opts)
	if err != nil {
		return nil, err
	}

	k := c.key(opts.ResourceDetails)
	var updated []byte
	var result *unstructured.Unstructured
	txf := func(tx *redis.Tx) error {
		existing, err := c.get(ctx, tx, opts.ResourceDetails)
		if err != nil {
			return err
		}
		patched, err := apiserver.ApplyMergePatch(existing, patch)
		if err != nil {
			return err
		}
		version, _ := strconv.ParseUint(existing.GetResourceVersion(), 10, 64)
		patched.SetResourceVersion(strconv.FormatUint(version+1, 10))
		if updated, err = patched.MarshalJSON(); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, updated, 0)
			return nil
		})
		result = patched
		return err
	}
	if err := c.cli.Watch(ctx, txf, k); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, apierrors.NewConflict(opts.GroupResource(), opts.ResourceID, err)
		}
		return nil, err
	}
	c.publish(ctx, opts.ResourceDetails, watch.Modified, updated)
	return apiserver.FromUnstructured(result)
}

func (c *Client) GetResource(ctx context.Context, details apiserver.ResourceDetails) (*apiserver.ManagedResource, error) {
	obj, err := c.get(ctx, c.cli, details)
	if err != nil {
		return nil, err
	}
	return apiserver.FromUnstructured(obj)
}

func (c *Client) ListResources(ctx context.Context, resourceGroup, resourceType, query string) ([]*apiserver.ManagedResource, error) {
	selector, err := apiserver.ParseSelector(query)
	if err != nil {
		return nil, err
	}
	objs, err := c.list(ctx, resourceGroup, resourceType, selector)
	if err != nil {
		return nil, err
	}
	ret := make([]*apiserver.ManagedResource, 0, len(objs))
	for _, obj := range objs {
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
	obj, err := c.get(ctx, c.cli, details)
	if err != nil {
		return err
	}
	deleted, err := c.cli.Del(ctx, c.key(details)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return apierrors.NewNotFound(details.GroupResource(), details.ResourceID)
	}
	data, err := obj.MarshalJSON()
	if err != nil {
		return err
	}
	c.publish(ctx, details, watch.Deleted, data)
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *Client) get(ctx context.Context, cmd getter, details apiserver.ResourceDetails) (*unstructured.Unstructured, error) {
	data, err := cmd.Get(ctx, c.key(details)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apierrors.NewNotFound(details.GroupResource(), details.ResourceID)
	}
	if err != nil {
		return nil, err
	}
	obj := &unstructured.Unstructured{}
	if err := obj.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", details, err)
	}
	return obj, nil
}

func (c *Client) list(ctx context.Context, resourceGroup, resourceType string, selector labels.Selector) ([]*unstructured.Unstructured, error) {
	prefix := c.kvprefix + resourceGroup + "/" + resourceType + "/"
	iter := c.cli.Scan(ctx, 0, prefix+"*", 0).Iterator()

	keys := []string{}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)

	ret := []*unstructured.Unstructured{}
	for _, key := range keys {
		data, err := c.cli.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted while listing
		}
		if err != nil {
			return nil, err
		}
		obj := &unstructured.Unstructured{}
		if err := obj.UnmarshalJSON(data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if selector.Matches(labels.Set(obj.GetLabels())) {
			ret = append(ret, obj)
		}
	}
	return ret, nil
}

func (c *Client) publish(ctx context.Context, details apiserver.ResourceDetails, eventType watch.EventType, data []byte) {
	payload, err := json.Marshal(event{Type: eventType, Object: data})
	if err != nil {
		return
	}
	if err := c.cli.Publish(ctx, c.channel(details.ResourceGroup, details.ResourceType), payload).Err(); err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "publish event", "resource", details.String())
	}
}
