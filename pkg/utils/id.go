package utils

import (
	"github.com/google/uuid"
)

// prefixes for protocol utils.NewGuid
const (
	PeerConnectionPrefix = "PC_"
	ClientPrefix         = "CL_"
)

func NewUUID() string {
	return uuid.NewString()
}
