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

package utils

import (
	"os"
	"strings"
)

func StrOrDef(s string, def string) string {
	if s == "" {
		return def
	}
	return s
}

// JoinFlagName builds a flag name such as "operator-locktimeout" from a prefix and a key.
func JoinFlagName(prefix, key string) string {
	if prefix == "" {
		return strings.ToLower(key)
	}
	return strings.ToLower(prefix + "-" + key)
}

// Hostname returns the host name or def when it cannot be determined.
func Hostname(def string) string {
	name, err := os.Hostname()
	if err != nil {
		return def
	}
	return StrOrDef(name, def)
}
