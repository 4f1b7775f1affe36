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
	"context"

	"servicefabrik.io/broker/pkg/apiserver"
)

// Result tells the dispatcher what to do with the processing lock once a handler returns.
type Result int

const (
	// Released lets the dispatcher release the lock.
	Released Result = iota
	// Retained keeps the lock, its new owner (a poller) releases it later.
	Retained
)

func (r Result) String() string {
	switch r {
	case Released:
		return "Released"
	case Retained:
		return "Retained"
	default:
		return "Unknown"
	}
}

// Handler processes a resource the dispatcher locked for it.
type Handler func(ctx context.Context, res *apiserver.ManagedResource) (Result, error)
