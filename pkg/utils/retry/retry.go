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

package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
)

var DefaultBackoff = wait.Backoff{
	Steps:    math.MaxInt32,   // retry until the caller gives up
	Duration: 5 * time.Second, // base interval
	Factor:   1.1,             // interval multiplier per attempt
	Jitter:   0.1,
}

func AlwaysError(err error) bool { return true }

func Always(fn func() error) error {
	return retry.OnError(DefaultBackoff, AlwaysError, fn)
}

func OnError(isRetry func(error) bool, fn func() error) error {
	return retry.OnError(DefaultBackoff, isRetry, fn)
}

// WithBackoff retries fn with backoff while isRetry accepts the returned error.
func WithBackoff(backoff wait.Backoff, isRetry func(error) bool, fn func() error) error {
	return retry.OnError(backoff, isRetry, fn)
}

func NotContextCancelError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
