package types

type ProtocolVersion int

const (
	// RSP messages
	CurrentProtocol ProtocolVersion = 2
	// "ice" request for ICE servers
	ICEProtocol ProtocolVersion = 1
)
