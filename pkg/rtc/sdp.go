package rtc

import (
	"github.com/pion/sdp/v3"
	"github.com/thoas/go-funk"
)

var sendDirections = []string{"sendrecv", "sendonly"}

func parseSDP(s string) (*sdp.SessionDescription, bool) {
	if s == "" {
		return nil, false
	}
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(s)); err != nil {
		return nil, false
	}
	return parsed, true
}

// getUfrag returns the first ICE username fragment in the SDP, session level
// first.
func getUfrag(s string) string {
	parsed, ok := parseSDP(s)
	if !ok {
		return ""
	}
	if ufrag, ok := parsed.Attribute("ice-ufrag"); ok {
		return ufrag
	}
	for _, m := range parsed.MediaDescriptions {
		if ufrag, ok := m.Attribute("ice-ufrag"); ok {
			return ufrag
		}
	}
	return ""
}

func isICELite(s string) bool {
	parsed, ok := parseSDP(s)
	if !ok {
		return false
	}
	_, lite := parsed.Attribute("ice-lite")
	return lite
}

func mediaDirection(m *sdp.MediaDescription) string {
	for _, dir := range []string{"sendrecv", "sendonly", "recvonly", "inactive"} {
		if _, ok := m.Attribute(dir); ok {
			return dir
		}
	}
	return "sendrecv"
}

// countMediaSections counts m= sections of the given kind. When directions
// are given only sections with one of those directions are counted.
func countMediaSections(s string, kind string, directions ...string) int {
	parsed, ok := parseSDP(s)
	if !ok {
		return 0
	}
	count := 0
	for _, m := range parsed.MediaDescriptions {
		if m.MediaName.Media != kind {
			continue
		}
		if len(directions) > 0 && !funk.ContainsString(directions, mediaDirection(m)) {
			continue
		}
		count++
	}
	return count
}
