// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package position

// State tracks the last sample a provider emitted, so that providers only emit when the position
// actually changed.
type State struct {
	last     Sample
	haveLast bool
}

// HasChanged reports whether s differs from the last stored sample. An empty state always reports a
// change.
func (st *State) HasChanged(s Sample) bool {
	if !st.haveLast {
		return true
	}
	return s.Lat != st.last.Lat || s.Lon != st.last.Lon
}

// Update stores s as the last emitted sample.
func (st *State) Update(s Sample) {
	st.last = s
	st.haveLast = true
}
