/*
 * Copyright 2023 LiveKit, Inc
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
)

type ICEConnectionType int

const (
	// this is in ICE priority highest -> lowest ordering
	ICEConnectionTypeUnknown ICEConnectionType = iota
	ICEConnectionTypeUDP
	ICEConnectionTypeTCP
	ICEConnectionTypeTURN
)

func (i ICEConnectionType) String() string {
	switch i {
	case ICEConnectionTypeUnknown:
		return "unknown"
	case ICEConnectionTypeUDP:
		return "udp"
	case ICEConnectionTypeTCP:
		return "tcp"
	case ICEConnectionTypeTURN:
		return "turn"
	default:
		return "unknown"
	}
}

// --------------------------------------------

// ICEState is the cumulative candidate list for one ufrag. Candidates only
// ever grow for a given ufrag; Revision increases with every batch.
type ICEState struct {
	Candidates []webrtc.ICECandidateInit `json:"candidates"`
	Revision   int                       `json:"revision"`
	Ufrag      string                    `json:"ufrag"`
	Complete   bool                      `json:"complete,omitempty"`
}

func (s *ICEState) Clone() *ICEState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Candidates = append([]webrtc.ICECandidateInit(nil), s.Candidates...)
	return &clone
}

// ICEServersStatus tells the server whether the client brought its own ICE
// servers or needs them from the "iced" response.
type ICEServersStatus string

const (
	ICEServersStatusOverrode ICEServersStatus = "overrode"
	ICEServersStatusAcquire  ICEServersStatus = "acquire"
)

// URLList accepts a single url or a list of urls.
type URLList []string

func (l *URLList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = URLList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// ICEServer is the wire form of an ICE server in "iced" messages and
// configuration responses.
type ICEServer struct {
	URLs       URLList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

func (s ICEServer) ToWebRTC() webrtc.ICEServer {
	server := webrtc.ICEServer{
		URLs:     append([]string(nil), s.URLs...),
		Username: s.Username,
	}
	if s.Credential != "" {
		server.Credential = s.Credential
		server.CredentialType = webrtc.ICECredentialTypePassword
	}
	return server
}

func ToWebRTCICEServers(servers []ICEServer) []webrtc.ICEServer {
	converted := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		converted = append(converted, s.ToWebRTC())
	}
	return converted
}

func FromWebRTCICEServers(servers []webrtc.ICEServer) []ICEServer {
	converted := make([]ICEServer, 0, len(servers))
	for _, s := range servers {
		server := ICEServer{URLs: append(URLList(nil), s.URLs...), Username: s.Username}
		if credential, ok := s.Credential.(string); ok {
			server.Credential = credential
		}
		converted = append(converted, server)
	}
	return converted
}
