package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/client"
	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/mcdev12/cylink/go/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	baseURL   string
	sessionID string
	admin     bool
	command   string
	color     string
	effect    string
	mode      string
}

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "spectator",
		Short: "Headless cylink spectator: joins a session and logs what the display shows",
		Long: `Joins a session over the socket, syncs its clock with the server and renders
programs locally. With --admin and --command it sends one admin command after joining.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.baseURL, "url", envOr("CYLINK_URL", "http://localhost:3001"), "server base URL")
	flags.StringVarP(&opts.sessionID, "session", "s", os.Getenv("CYLINK_SESSION"), "session id to join")
	flags.BoolVar(&opts.admin, "admin", false, "join as admin (not counted as a user)")
	flags.StringVarP(&opts.command, "command", "c", "", "admin command: change-color, trigger-effect, change-mode, start-program, stop-program")
	flags.StringVar(&opts.color, "color", "", "color for change-color, e.g. #FF0000")
	flags.StringVar(&opts.effect, "effect", "", "effect for change-color or trigger-effect")
	flags.StringVar(&opts.mode, "mode", "", "mode for change-mode: manual or program")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func run(parent context.Context, opts *options) error {
	var command *outbound
	if opts.command != "" {
		if !opts.admin {
			return errors.New("--command requires --admin")
		}
		c, err := buildCommand(opts)
		if err != nil {
			return err
		}
		command = c
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	joined := make(chan struct{}, 1)
	config := client.DefaultConfig(opts.baseURL, opts.sessionID)
	config.Admin = opts.admin
	c := client.New(config, clockwork.NewRealClock(), func(u client.Update) {
		log.Info().
			Str("color", u.Color).
			Str("effect", string(u.Effect)).
			Str("mode", string(u.Mode)).
			Str("source", string(u.Source)).
			Int("users", u.Users).
			Bool("running", u.Running).
			Msg("display")
		if u.Source == client.SourceSync {
			select {
			case joined <- struct{}{}:
			default:
			}
		}
	})

	if command != nil {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-joined:
			}
			if err := c.Send(command.event, command.payload); err != nil {
				log.Error().Err(err).Str("command", string(command.event)).Msg("failed to send command")
				return
			}
			log.Info().Str("command", string(command.event)).Msg("command sent")
		}()
	}

	log.Info().Str("url", opts.baseURL).Str("session_id", opts.sessionID).Bool("admin", opts.admin).Msg("joining session")
	err := c.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, client.ErrSessionEnded):
		log.Info().Msg("session ended")
		return nil
	case err != nil:
		log.Error().Err(err).Msg("spectator stopped")
	}
	return err
}

type outbound struct {
	event   events.Name
	payload any
}

func buildCommand(opts *options) (*outbound, error) {
	id := opts.sessionID
	switch events.Name(opts.command) {
	case events.ChangeColor:
		if opts.color == "" {
			return nil, errors.New("change-color needs --color")
		}
		p := events.ChangeColorPayload{SessionID: id, Color: opts.color}
		if opts.effect != "" {
			effect := models.EffectType(opts.effect)
			p.Effect = &effect
		}
		return &outbound{events.ChangeColor, p}, nil
	case events.TriggerEffect:
		if opts.effect == "" {
			return nil, errors.New("trigger-effect needs --effect")
		}
		return &outbound{events.TriggerEffect, events.TriggerEffectPayload{SessionID: id, EffectType: models.EffectType(opts.effect)}}, nil
	case events.ChangeMode:
		return &outbound{events.ChangeMode, events.ChangeModePayload{SessionID: id, Mode: models.SessionMode(opts.mode)}}, nil
	case events.StartProgram, events.StopProgram:
		return &outbound{events.Name(opts.command), events.SessionCommandPayload{SessionID: id}}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", opts.command)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
