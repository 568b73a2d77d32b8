// Handshake Core
// Copyright (c) 2026 The Campus Market Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Handshake Core.
//
// Handshake Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Handshake Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Handshake Core.  If not, see <http://www.gnu.org/licenses/>.

package radio

import (
	"sync"

	"github.com/campusmarket/handshake-core/pkg/helpers/syncutil"
)

// ScanHandle is a Scan implementation shared by the backends. The backend
// calls Finish when the radio reports the pass complete; Stop runs the
// backend's stop function once and finishes the pass.
type ScanHandle struct {
	err      error
	stop     func() error
	done     chan struct{}
	stopErr  error
	mu       syncutil.Mutex
	stopOnce sync.Once
	doneOnce sync.Once
}

func NewScanHandle(stop func() error) *ScanHandle {
	return &ScanHandle{
		stop: stop,
		done: make(chan struct{}),
	}
}

func (s *ScanHandle) Done() <-chan struct{} {
	return s.done
}

func (s *ScanHandle) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Finish marks the pass complete. Only the first call has an effect.
func (s *ScanHandle) Finish(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *ScanHandle) Stop() error {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stopErr = s.stop()
		}
		s.Finish(nil)
	})
	return s.stopErr
}
