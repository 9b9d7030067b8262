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
	"encoding/json"

	"github.com/livekit/signal-client/pkg/rtc/types"
)

const (
	SDKName   = "signal-client-go"
	SDPFormat = "unified"

	// "ice" requests reuse the signaling edge
	iceEdgeRoaming = "roaming"

	disconnectedStatusCompleted = "completed"
)

type MessageType string

const (
	MessageTypeConnect      MessageType = "connect"
	MessageTypeSync         MessageType = "sync"
	MessageTypeUpdate       MessageType = "update"
	MessageTypeDisconnect   MessageType = "disconnect"
	MessageTypeICE          MessageType = "ice"
	MessageTypeICED         MessageType = "iced"
	MessageTypeConnected    MessageType = "connected"
	MessageTypeSynced       MessageType = "synced"
	MessageTypeDisconnected MessageType = "disconnected"
	MessageTypeError        MessageType = "error"
	MessageTypeWarning      MessageType = "warning"
)

type PublisherInfo struct {
	Name       string `json:"name"`
	SDKVersion string `json:"sdk_version"`
	UserAgent  string `json:"user_agent"`
}

type ConnectedOptions struct {
	// seconds
	SessionTimeout int `json:"session_timeout"`
}

// Update is the payload of an outbound update, also accumulated while not
// connected.
type Update struct {
	Participant     *types.ParticipantState      `json:"participant,omitempty"`
	PeerConnections []*types.PeerConnectionState `json:"peer_connections,omitempty"`
}

// Message is a Room Signaling Protocol message. Only the fields relevant to
// Type are set.
type Message struct {
	Type    MessageType `json:"type"`
	Version int         `json:"version,omitempty"`
	Session string      `json:"session,omitempty"`
	Name    string      `json:"name,omitempty"`
	Token   string      `json:"token,omitempty"`
	// room sid, set by the server
	SID string `json:"sid,omitempty"`

	Participant     *types.ParticipantState      `json:"participant,omitempty"`
	PeerConnections []*types.PeerConnectionState `json:"peer_connections,omitempty"`

	// a status string on connect, a server list on iced
	ICEServers json.RawMessage `json:"ice_servers,omitempty"`
	Publisher  *PublisherInfo  `json:"publisher,omitempty"`
	Format     string          `json:"format,omitempty"`
	Edge       string          `json:"edge,omitempty"`

	Options *ConnectedOptions `json:"options,omitempty"`
	Status  string            `json:"status,omitempty"`
	Code    int               `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
}

// ParseMessage decodes an inbound message body.
func ParseMessage(body []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, types.ErrIncomingMessageInvalid.WithCause(err)
	}
	if msg.Type == "" {
		return nil, types.ErrIncomingMessageInvalid
	}
	return msg, nil
}

// ICEServerList decodes the servers of an "iced" message.
func (m *Message) ICEServerList() ([]types.ICEServer, error) {
	var servers []types.ICEServer
	if len(m.ICEServers) == 0 {
		return servers, nil
	}
	if err := json.Unmarshal(m.ICEServers, &servers); err != nil {
		return nil, types.ErrIncomingMessageInvalid.WithCause(err)
	}
	return servers, nil
}

// SessionTimeout returns the session timeout carried by a "connected"
// message in seconds, 0 when absent.
func (m *Message) SessionTimeout() int {
	if m.Options == nil {
		return 0
	}
	return m.Options.SessionTimeout
}

func (m *Message) IsRoomCompleted() bool {
	return m.Type == MessageTypeDisconnected && m.Status == disconnectedStatusCompleted
}

// ------------------------------------------------

type ConnectParams struct {
	Name             string
	Token            string
	UserAgent        string
	SDKVersion       string
	Participant      *types.ParticipantState
	PeerConnections  []*types.PeerConnectionState
	ICEServersStatus types.ICEServersStatus
}

func NewConnectMessage(params ConnectParams) *Message {
	status, _ := json.Marshal(string(params.ICEServersStatus))
	return &Message{
		Type:            MessageTypeConnect,
		Version:         int(types.CurrentProtocol),
		Name:            params.Name,
		Token:           params.Token,
		Participant:     params.Participant,
		PeerConnections: params.PeerConnections,
		ICEServers:      status,
		Publisher: &PublisherInfo{
			Name:       SDKName,
			SDKVersion: params.SDKVersion,
			UserAgent:  params.UserAgent,
		},
		Format: SDPFormat,
	}
}

func NewSyncMessage(name, session, token string, participant *types.ParticipantState, peerConnections []*types.PeerConnectionState) *Message {
	return &Message{
		Type:            MessageTypeSync,
		Version:         int(types.CurrentProtocol),
		Name:            name,
		Session:         session,
		Token:           token,
		Participant:     participant,
		PeerConnections: peerConnections,
	}
}

func NewUpdateMessage(session string, update *Update) *Message {
	msg := &Message{
		Type:    MessageTypeUpdate,
		Version: int(types.CurrentProtocol),
		Session: session,
	}
	if update != nil {
		msg.Participant = update.Participant
		msg.PeerConnections = update.PeerConnections
	}
	return msg
}

func NewDisconnectMessage(session string) *Message {
	return &Message{
		Type:    MessageTypeDisconnect,
		Version: int(types.CurrentProtocol),
		Session: session,
	}
}

func NewICEMessage(token string) *Message {
	return &Message{
		Type:    MessageTypeICE,
		Version: int(types.ICEProtocol),
		Token:   token,
		Edge:    iceEdgeRoaming,
	}
}
