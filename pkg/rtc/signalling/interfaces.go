// Copyright 2023 LiveKit, Inc.
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

package signalling

import (
	"context"

	"github.com/livekit/signal-client/pkg/rtc/types"
)

type ParticipantStateProvider interface {
	GetState() *types.ParticipantState
}

type PeerConnectionStateProvider interface {
	GetStates() []*types.PeerConnectionState
}

// Dialer opens the websocket underneath a Connection.
type Dialer interface {
	Dial(ctx context.Context, url string) (types.WebsocketClient, error)
}

// Conn is a message oriented connection to the signaling server. Connection
// implements it.
type Conn interface {
	SendMessage(body interface{})
	Close()
}

// ConnFactory opens a Conn. SignalingConnection uses it for the first
// connection and for every reconnect.
type ConnFactory func(params ConnParams) Conn

// UpdatePublisher delivers updates over a request/response channel instead
// of the connection.
type UpdatePublisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// Handler receives the events of a SignalingConnection. Events are delivered
// in order from a single goroutine, except for the state change of a
// Disconnect call which is delivered on the caller's goroutine.
type Handler interface {
	OnConnected(msg *Message)
	OnMessage(msg *Message)
	OnStateChanged(state ConnectionState, err error)
}
