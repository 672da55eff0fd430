// Copyright 2025 The Loam Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package region

import (
	"github.com/loamlang/loam/internal/heap"
)

// Channel transfers object graphs between threads. A send transmigrates
// the graph out of the sender's region into a courier region owned by the
// message; a receive transmigrates it into the receiver's region. Because
// the courier holds exactly the closure of the sent root, the receive side
// is a splice rather than a copy.
type Channel struct {
	mgr *Manager
	ch  chan parcel
}

type parcel struct {
	courier *Region
	root    *heap.Obj
}

// NewChannel returns a channel with the given buffer depth.
func (m *Manager) NewChannel(buffer int) *Channel {
	return &Channel{mgr: m, ch: make(chan parcel, buffer)}
}

// Send copies the graph rooted at root out of the sender's region and
// enqueues it. The sender's copy remains valid until its region closes.
func (c *Channel) Send(root *heap.Obj) error {
	courier := c.mgr.Open(nil)
	copied, err := c.mgr.Transmigrate(courier, root)
	if err != nil {
		c.mgr.Close(courier)
		return err
	}
	c.ch <- parcel{courier: courier, root: copied}
	return nil
}

// Recv dequeues a graph and lands it in the receiver's region.
func (c *Channel) Recv(receiver *Region) (*heap.Obj, error) {
	p := <-c.ch

	// Sealing the courier first makes the splice fast path legal.
	p.courier.frozen.Store(true)
	root, err := c.mgr.Transmigrate(receiver, p.root)
	c.mgr.Close(p.courier)
	if err != nil {
		return nil, err
	}
	return root, nil
}

// Close closes the underlying channel. Parcels already in flight remain
// receivable.
func (c *Channel) Close() {
	close(c.ch)
}
