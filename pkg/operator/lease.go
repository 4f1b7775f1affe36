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

package operator

import (
	"time"

	"servicefabrik.io/broker/pkg/apiserver"
)

// Lease is the processing lock recorded in the annotations of a resource.
type Lease struct {
	Owner     string
	StartedAt time.Time
}

// LeaseOf reads the lease of res. A start time that does not parse
// is left zero, such a lease is never active.
func LeaseOf(res *apiserver.ManagedResource) Lease {
	lease := Lease{Owner: res.Annotations[apiserver.AnnotationLockedByManager]}
	if startedAt := res.Annotations[apiserver.AnnotationProcessingStartedAt]; startedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			lease.StartedAt = t
		}
	}
	return lease
}

// Held reports whether the lease names an owner and a start time.
func (l Lease) Held() bool {
	return l.Owner != "" && !l.StartedAt.IsZero()
}

// Active reports whether the lease is held and younger than timeout at now.
func (l Lease) Active(now time.Time, timeout time.Duration) bool {
	return l.Held() && now.Sub(l.StartedAt) < timeout
}

// Annotations renders the lease, the zero lease clears both fields.
func (l Lease) Annotations() map[string]string {
	startedAt := ""
	if !l.StartedAt.IsZero() {
		startedAt = l.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]string{
		apiserver.AnnotationLockedByManager:     l.Owner,
		apiserver.AnnotationProcessingStartedAt: startedAt,
	}
}
