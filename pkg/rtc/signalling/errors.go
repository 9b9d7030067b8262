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
	"errors"
	"fmt"
)

var (
	ErrPublishRejected   = errors.New("update rejected by server")
	ErrPublishExhausted  = errors.New("update publish attempts exhausted")
	ErrPublishURLMissing = errors.New("publish url not configured")
)

// CloseError reports an abnormal close of the heartbeat connection.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket error %d: %s", e.Code, e.Reason)
}
