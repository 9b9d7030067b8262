package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"
	protoutils "github.com/livekit/protocol/utils"
	"github.com/livekit/signal-client/pkg/config"
	"github.com/livekit/signal-client/pkg/rtc/signalling"
	"github.com/livekit/signal-client/pkg/rtc/types"
	"github.com/livekit/signal-client/pkg/telemetry/prometheus"
	"github.com/livekit/signal-client/pkg/utils"
)

var errICEEndpointNotSet = errors.New("ice server endpoint is not set")

func joinRoom(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	if err = conf.ValidateSignaling(); err != nil {
		return err
	}

	identity := c.String("identity")
	if identity == "" {
		identity = protoutils.NewGuid(utils.ClientPrefix)
	}
	client, err := InitializeClient(conf, AccessToken(c.String("token")), Identity(identity))
	if err != nil {
		return err
	}

	prometheus.Init(identity)
	if conf.PrometheusPort > 0 {
		go servePrometheus(conf.PrometheusPort)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Infow("exit requested, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	r, err := client.Join(ctx, &printingHandler{})
	if err != nil {
		return errors.Wrap(err, "could not join room")
	}
	fmt.Printf("joined room %s as %s (%s)\n", r.SID(), identity, r.LocalParticipantSID())

	select {
	case <-ctx.Done():
		r.Disconnect()
	case <-r.Done():
	}
	client.Close()

	if c.Bool("stats") {
		printStats(prometheus.GetStats())
	}
	return r.Err()
}

func servePrometheus(port uint32) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Infow("serving prometheus metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorw("prometheus server stopped", err)
	}
}

func printICEServers(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	if conf.ICEServers.Endpoint == "" {
		return errICEEndpointNotSet
	}

	client, err := InitializeClient(conf, AccessToken(c.String("token")), Identity(""))
	if err != nil {
		return err
	}
	defer client.Close()

	source := client.ICEServerSource()
	servers, err := source.Start(c.Context)
	if err != nil {
		return err
	}

	fmt.Printf("status: %s\n", source.Status())
	renderICEServers(os.Stdout, servers)
	return nil
}

func renderICEServers(w io.Writer, servers []types.ICEServer) {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"URLs",
		"Username",
		"Credential",
	})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_CENTER,
	})

	for _, server := range servers {
		credential := ""
		if server.Credential != "" {
			credential = "<set>"
		}
		table.Append([]string{
			strings.Join(server.URLs, "\n"),
			server.Username,
			credential,
		})
	}
	table.Render()
}

func printStats(stats *prometheus.Stats) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"Stat",
		"Value",
	})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
	})

	table.AppendBulk([][]string{
		{"Messages In", humanize.Comma(int64(stats.MessagesIn))},
		{"Messages Out", humanize.Comma(int64(stats.MessagesOut))},
		{"Bytes In", humanize.Bytes(stats.BytesIn)},
		{"Bytes Out", humanize.Bytes(stats.BytesOut)},
		{"Reconnects", humanize.Comma(int64(stats.Reconnects))},
		{"Publish Retries", humanize.Comma(int64(stats.PublishRetries))},
		{"Negotiations", humanize.Comma(int64(stats.Negotiations))},
		{"Glares", humanize.Comma(int64(stats.Glares))},
		{"ICE Restarts", humanize.Comma(int64(stats.ICERestarts))},
		{"Insights Published", humanize.Comma(int64(stats.InsightsPublished))},
		{"Insights Dropped", humanize.Comma(int64(stats.InsightsDropped))},
	})
	table.Render()
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, false)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}

// ------------------------------------------------

type printingHandler struct{}

func (h *printingHandler) OnStateChanged(state signalling.ConnectionState, err error) {
	if err != nil {
		fmt.Printf("signaling %s: %v\n", state, err)
		return
	}
	fmt.Printf("signaling %s\n", state)
}

func (h *printingHandler) OnMessage(msg *signalling.Message) {
	logger.Debugw("received message", "type", msg.Type, "peerConnections", len(msg.PeerConnections))
}

func (h *printingHandler) OnTrackAdded(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	fmt.Printf("track added: %s (%s)\n", track.ID(), track.Kind())
}
