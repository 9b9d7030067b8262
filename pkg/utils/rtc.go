package utils

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v3"
)

var iceSchemes = []string{"stun:", "stuns:", "turn:", "turns:"}

// IceServerForURLs groups credential-less urls into one server entry. Bare
// host:port values are treated as STUN servers.
func IceServerForURLs(urls []string) webrtc.ICEServer {
	iceServer := webrtc.ICEServer{}
	for _, u := range urls {
		if !hasICEScheme(u) {
			u = fmt.Sprintf("stun:%s", u)
		}
		iceServer.URLs = append(iceServer.URLs, u)
	}
	return iceServer
}

func hasICEScheme(u string) bool {
	for _, scheme := range iceSchemes {
		if strings.HasPrefix(u, scheme) {
			return true
		}
	}
	return false
}
