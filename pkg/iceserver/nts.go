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

package iceserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/pion/stun"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/signal-client/pkg/rtc/types"
)

const (
	DefaultTimeout = 3 * time.Second
	DefaultTTL     = time.Hour

	configurationService      = "video"
	minPollInterval           = time.Second
	accessTokenErrorCodeClass = 2
)

var DefaultServers = []types.ICEServer{
	{URLs: types.URLList{"stun:stun.l.google.com:19302"}},
}

var (
	ErrStopped               = errors.New("ice server source stopped")
	ErrTraversalUnavailable  = errors.New("network_traversal_service not available")
	ErrICEServersUnavailable = errors.New("ice_servers not available")
	ErrConfigurationEndpoint = errors.New("configuration endpoint not set")
	errConfigurationTimeout  = errors.New("configuration request timed out")
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ConfigurationError is an error response of the configuration endpoint.
type ConfigurationError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration request failed (%d): %d %s", e.StatusCode, e.Code, e.Message)
}

// IsAccessTokenError reports whether the token itself was rejected. Polling
// again with the same token cannot succeed.
func (e *ConfigurationError) IsAccessTokenError() bool {
	return e.Code/10000 == accessTokenErrorCodeClass
}

type configurationRequest struct {
	Service    string `json:"service"`
	SDKVersion string `json:"sdk_version"`
}

type configurationResponse struct {
	Video *struct {
		NetworkTraversalService *struct {
			ICEServers []types.ICEServer `json:"ice_servers"`
			TTL        int               `json:"ttl"`
			Warning    string            `json:"warning"`
		} `json:"network_traversal_service"`
	} `json:"video"`
}

type NTSSourceParams struct {
	Endpoint       string
	Token          string
	SDKVersion     string
	Timeout        time.Duration
	DefaultTTL     time.Duration
	AbortOnTimeout bool
	DefaultServers []types.ICEServer
	Cache          *Cache
	Client         *http.Client
	// called with every acquired or fallback server list
	OnICEServers func(servers []types.ICEServer)
	Logger       logger.Logger
}

// NTSSource acquires ICE servers from the network traversal service and keeps
// them fresh by polling again before they expire.
type NTSSource struct {
	params NTSSourceParams
	logger logger.Logger

	lock     sync.Mutex
	stopped  *core.Fuse
	nextPoll *time.Timer
	status   Status
	servers  []types.ICEServer
}

func NewNTSSource(params NTSSourceParams) *NTSSource {
	if params.Timeout <= 0 {
		params.Timeout = DefaultTimeout
	}
	if params.DefaultTTL <= 0 {
		params.DefaultTTL = DefaultTTL
	}
	if len(params.DefaultServers) == 0 {
		params.DefaultServers = DefaultServers
	}
	if params.Client == nil {
		params.Client = &http.Client{}
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}

	return &NTSSource{
		params: params,
		logger: params.Logger.WithName("ice-servers"),
	}
}

func (s *NTSSource) IsStarted() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.stopped != nil
}

func (s *NTSSource) Status() Status {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.status
}

func (s *NTSSource) Servers() []types.ICEServer {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.servers
}

// Start runs the first poll and returns its servers. Later polls report
// through OnICEServers.
func (s *NTSSource) Start(ctx context.Context) ([]types.ICEServer, error) {
	s.lock.Lock()
	if s.stopped != nil {
		servers := s.servers
		s.lock.Unlock()
		s.logger.Warnw("already started", nil)
		return servers, nil
	}
	stopped := &core.Fuse{}
	s.stopped = stopped
	s.lock.Unlock()

	s.logger.Infow("starting")
	return s.poll(ctx, stopped)
}

func (s *NTSSource) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stopped == nil {
		s.logger.Debugw("already stopped")
		return
	}
	s.stopped.Break()
	s.stopped = nil
	if s.nextPoll != nil {
		s.nextPoll.Stop()
		s.nextPoll = nil
	}
	s.logger.Infow("stopped")
}

func (s *NTSSource) isCurrent(stopped *core.Fuse) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.stopped == stopped && !stopped.IsBroken()
}

func (s *NTSSource) poll(ctx context.Context, stopped *core.Fuse) ([]types.ICEServer, error) {
	servers, ttl, err := s.acquire(ctx, stopped)
	if !s.isCurrent(stopped) {
		return nil, ErrStopped
	}

	if err != nil {
		s.setStatus(StatusFailure)

		var configErr *ConfigurationError
		switch {
		case errors.Is(err, errConfigurationTimeout):
			if s.params.AbortOnTimeout {
				s.logger.Warnw("getting ice servers took too long", nil)
				return nil, types.ErrConfigurationAcquireFailed.WithCause(err)
			}
			s.logger.Warnw("getting ice servers took too long, using defaults", nil)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &configErr) && configErr.IsAccessTokenError():
			s.logger.Warnw("access token rejected, using defaults", err)
			s.Stop()
		default:
			s.logger.Warnw("failed to get ice servers, using defaults", err)
		}
		servers, ttl = s.params.DefaultServers, s.params.DefaultTTL
	} else {
		s.setStatus(StatusSuccess)
	}

	s.lock.Lock()
	s.servers = servers
	if s.stopped == stopped {
		delay := max(ttl-s.params.Timeout, minPollInterval)
		s.logger.Debugw("getting ice servers again", "in", delay)
		s.nextPoll = time.AfterFunc(delay, func() {
			if s.isCurrent(stopped) {
				_, _ = s.poll(context.Background(), stopped)
			}
		})
	}
	s.lock.Unlock()

	if s.params.OnICEServers != nil {
		s.params.OnICEServers(servers)
	}
	return servers, nil
}

func (s *NTSSource) setStatus(status Status) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.status = status
}

// acquire fetches the configuration, giving up after the timeout or as soon
// as the source is stopped.
func (s *NTSSource) acquire(ctx context.Context, stopped *core.Fuse) ([]types.ICEServer, time.Duration, error) {
	if s.params.Cache != nil {
		if servers, remaining, ok := s.params.Cache.Get(s.params.Endpoint, s.params.Token); ok {
			s.logger.Debugw("using cached ice servers", "remaining", remaining)
			return servers, remaining, nil
		}
	}
	if s.params.Endpoint == "" {
		return nil, 0, ErrConfigurationEndpoint
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.params.Timeout)
	defer cancel()
	go func() {
		select {
		case <-stopped.Watch():
			cancel()
		case <-reqCtx.Done():
		}
	}()

	servers, ttl, err := s.fetch(reqCtx)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, 0, errors.Wrap(errConfigurationTimeout, err.Error())
		}
		return nil, 0, err
	}

	if s.params.Cache != nil {
		s.params.Cache.Put(s.params.Endpoint, s.params.Token, servers, ttl)
	}
	return servers, ttl, nil
}

func (s *NTSSource) fetch(ctx context.Context) ([]types.ICEServer, time.Duration, error) {
	body, err := json.Marshal(&configurationRequest{
		Service:    configurationService,
		SDKVersion: s.params.SDKVersion,
	})
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.params.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.params.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.params.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		configErr := &ConfigurationError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(configErr)
		return nil, 0, configErr
	}

	var config configurationResponse
	if err := json.NewDecoder(resp.Body).Decode(&config); err != nil {
		return nil, 0, err
	}
	return s.parse(&config)
}

func (s *NTSSource) parse(config *configurationResponse) ([]types.ICEServer, time.Duration, error) {
	if config.Video == nil || config.Video.NetworkTraversalService == nil {
		return nil, 0, ErrTraversalUnavailable
	}
	nts := config.Video.NetworkTraversalService
	if nts.Warning != "" {
		s.logger.Warnw("network traversal service warning", nil, "warning", nts.Warning)
	}
	if nts.ICEServers == nil {
		return nil, 0, ErrICEServersUnavailable
	}

	servers := ValidServers(nts.ICEServers, s.logger)
	s.logger.Infow("got ice servers", "count", len(servers))

	ttl := s.params.DefaultTTL
	if nts.TTL > 0 {
		ttl = time.Duration(nts.TTL) * time.Second
	}
	return servers, ttl, nil
}

// ValidServers drops urls that are not stun or turn uris, and servers left
// without any.
func ValidServers(servers []types.ICEServer, l logger.Logger) []types.ICEServer {
	valid := make([]types.ICEServer, 0, len(servers))
	for _, server := range servers {
		urls := make(types.URLList, 0, len(server.URLs))
		for _, url := range server.URLs {
			if _, err := stun.ParseURI(url); err != nil {
				l.Warnw("ignoring invalid ice server url", err, "url", url)
				continue
			}
			urls = append(urls, url)
		}
		if len(urls) == 0 {
			continue
		}
		server.URLs = urls
		valid = append(valid, server)
	}
	return valid
}
