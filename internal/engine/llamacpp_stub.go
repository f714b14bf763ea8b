//go:build !llama

package engine

import "errors"

// This file provides a no-CGO stub compiled when the 'llama' build tag is NOT
// set, keeping default builds and CI CGO-free. The real engine lives in
// llamacpp.go (tagged 'llama'). Failing fast here avoids any mocked behavior
// in production binaries built without CGO support.

// New returns the in-process llama.cpp engine.
func New() (Engine, error) {
	return nil, errors.New("llama support not built (missing 'llama' build tag)")
}
