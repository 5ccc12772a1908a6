// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package position

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by providers that cannot deliver positions, for example because access
// to the location service was denied or the device is not present.
var ErrUnavailable = errors.New("position source unavailable")

// Update is a single message on a provider stream. Either Sample is set or Err is non-nil. An Update
// carrying an error is terminal; the provider closes the stream after sending it.
type Update struct {
	Sample Sample
	Err    error
}

// Source is implemented by every position provider. LookupStream starts the provider and returns a
// stream of updates. Cancelling ctx stops the provider, which then closes the stream.
type Source interface {
	Name() string
	LookupStream(ctx context.Context) <-chan Update
}

// Prober is implemented by sources that can check up front whether they are able to deliver positions.
type Prober interface {
	Probe(ctx context.Context) error
}
