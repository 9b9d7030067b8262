package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/signal-client/pkg/config"
)

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to the client config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "client config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"SIGNAL_CLIENT_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "url",
		Usage:   "signaling server url",
		EnvVars: []string{"SIGNAL_CLIENT_URL"},
	},
	&cli.StringFlag{
		Name:    "token",
		Usage:   "access token used for signaling, ice server acquisition and insights",
		EnvVars: []string{"SIGNAL_CLIENT_TOKEN"},
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn or error",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and console formatter",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, true)
	if err != nil {
		fmt.Println(err)
	}

	app := &cli.App{
		Name:  "signal-client",
		Usage: "room signaling client",
		Flags: append(baseFlags, generatedFlags...),
		Commands: []*cli.Command{
			{
				Name:   "join",
				Usage:  "joins a room and stays connected until interrupted",
				Action: joinRoom,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "identity",
						Usage: "identity of the local participant",
					},
					&cli.BoolFlag{
						Name:  "stats",
						Usage: "print signaling stats on exit",
					},
				},
			},
			{
				Name:   "ice-servers",
				Usage:  "acquires ice servers from the configured endpoint and prints them",
				Action: printICEServers,
			},
			{
				Name:   "help-verbose",
				Usage:  "prints app help, including all generated configuration flags",
				Action: helpVerbose,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := config.GetConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(confString, strictMode, c, baseFlags)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(&conf.Logging)

	if conf.Development {
		logger.Infow("starting in development mode")
	}
	return conf, nil
}
