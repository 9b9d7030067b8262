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

package types

import (
	"time"
)

// CandidatePairActivity is the byte counters of the active candidate pair at
// one point in time.
type CandidatePairActivity struct {
	Timestamp     time.Time
	BytesReceived uint64
	BytesSent     uint64
	LocalType     string
	RemoteType    string
}

// PeerConnectionStats is an aggregated statistics snapshot of one peer
// connection.
type PeerConnectionStats struct {
	PeerConnectionID   string
	Timestamp          time.Time
	ICEConnectionState string
	ActivePair         *CandidatePairActivity
	BytesReceived      uint64
	BytesSent          uint64
	PacketsReceived    uint32
	PacketsSent        uint32
	InboundTracks      int
	OutboundTracks     int
}
