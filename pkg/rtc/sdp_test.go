package rtc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testOfferSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0 1 2\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:ufA1\r\n" +
	"a=ice-pwd:passwordpasswordpassword\r\n" +
	"a=mid:0\r\n" +
	"a=sendrecv\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:ufA1\r\n" +
	"a=ice-pwd:passwordpasswordpassword\r\n" +
	"a=mid:1\r\n" +
	"a=recvonly\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:ufA1\r\n" +
	"a=ice-pwd:passwordpasswordpassword\r\n" +
	"a=mid:2\r\n" +
	"a=sendonly\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func TestGetUfrag(t *testing.T) {
	require.Equal(t, "ufA1", getUfrag(testOfferSDP))
	require.Equal(t, "", getUfrag(""))
	require.Equal(t, "", getUfrag("garbage"))
}

func TestCountMediaSections(t *testing.T) {
	require.Equal(t, 1, countMediaSections(testOfferSDP, "audio"))
	require.Equal(t, 2, countMediaSections(testOfferSDP, "video"))
	require.Equal(t, 1, countMediaSections(testOfferSDP, "video", sendDirections...))
	require.Equal(t, 0, countMediaSections(testOfferSDP, "application"))
}

func TestIsICELite(t *testing.T) {
	require.False(t, isICELite(testOfferSDP))
	lite := "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\na=ice-lite\r\n"
	require.True(t, isICELite(lite))
}
