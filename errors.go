// Copyright 2024 The Cockroach Authors
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

package hashtab

import "github.com/cockroachdb/errors"

var (
	// ErrKeyNotFound is returned by At when the requested key is absent.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidArgument is returned for configuration values outside of
	// their valid range, such as a max load factor not in (0, 1). The table
	// is left unchanged.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOverflow is returned when a requested capacity cannot be rounded up
	// to a representable power of two. The table is left unchanged.
	ErrOverflow = errors.New("capacity overflow")
)

func keyNotFound[K any](key K) error {
	return errors.Wrapf(ErrKeyNotFound, "key %v", key)
}

func invalidMaxLoadFactor(v float64) error {
	return errors.Wrapf(ErrInvalidArgument, "max load factor %v not in (0, 1)", v)
}

func validateMaxLoadFactor(v float64) error {
	// NB: written so that NaN is rejected.
	if !(v > 0 && v < 1) {
		return invalidMaxLoadFactor(v)
	}
	return nil
}
