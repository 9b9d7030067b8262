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
	"github.com/livekit/signal-client/pkg/rtc/types"
)

var _ Handler = UnimplementedHandler{}

type UnimplementedHandler struct{}

func (UnimplementedHandler) OnConnected(*Message)                  {}
func (UnimplementedHandler) OnMessage(*Message)                    {}
func (UnimplementedHandler) OnStateChanged(ConnectionState, error) {}

type emptyParticipant struct{}

func (emptyParticipant) GetState() *types.ParticipantState {
	return &types.ParticipantState{Tracks: []types.TrackState{}}
}

type emptyPeerConnections struct{}

func (emptyPeerConnections) GetStates() []*types.PeerConnectionState {
	return []*types.PeerConnectionState{}
}
