package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agalue/ada-voice-agent/internal/config"
	"github.com/agalue/ada-voice-agent/internal/transport/local"
	"github.com/agalue/ada-voice-agent/internal/transport/rtc"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host a WebRTC room and talk to everyone who joins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	config.BindServerFlags(cmd.Flags(), a.cfg)
	return cmd
}

func (a *app) serve(parent context.Context) error {
	if a.cfg.TokenSecret == "" {
		return fmt.Errorf("%s must be set to sign join tokens", config.EnvTokenSecret)
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.log.Infow("🎤 Ada starting", "mode", "serve", "room", a.cfg.Room)
	e, err := a.loadEngines(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	agent, err := a.newAgent(e)
	if err != nil {
		return err
	}
	server, err := rtc.New(rtc.Options{
		Room:       a.cfg.Room,
		Secret:     a.cfg.TokenSecret,
		ICEServers: a.cfg.ICEServers,
	}, a.log)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.watchEvents(ctx, agent)
	}()
	go func() {
		defer wg.Done()
		_ = agent.Run(ctx, server)
	}()
	a.log.Info("🎙️ Join with a token from 'assistant token --identity <name>' (Ctrl+C to quit)")

	err = server.ListenAndServe(ctx, a.cfg.Listen)
	a.log.Info("🛑 Shutting down...")
	stop()
	_ = server.Close()
	a.waitShutdown(&wg)
	return err
}

func newLocalCommand(a *app) *cobra.Command {
	var text bool
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Talk to Ada through this machine's microphone and speaker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLocal(cmd.Context(), text)
		},
	}
	config.BindDeviceFlags(cmd.Flags(), a.cfg)
	cmd.Flags().BoolVar(&text, "text", true, "Also accept typed messages on stdin")
	return cmd
}

func (a *app) runLocal(parent context.Context, text bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.log.Infow("🎤 Ada starting", "mode", "local")
	e, err := a.loadEngines(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	agent, err := a.newAgent(e)
	if err != nil {
		return err
	}

	opts := local.Options{
		SampleRate:   a.cfg.SampleRate,
		FrameMs:      a.cfg.FrameMs,
		PlaybackRate: a.cfg.PlaybackRate,
		BufferMs:     a.cfg.AudioBufferMs,
	}
	if text {
		opts.Input = os.Stdin
	}
	tr, err := local.New(opts, a.log)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.watchEvents(ctx, agent)
	}()
	go func() {
		defer wg.Done()
		_ = agent.Run(ctx, tr)
	}()

	if err := tr.Start(); err != nil {
		stop()
		_ = tr.Close()
		wg.Wait()
		return err
	}
	a.log.Info("🎙️ Listening... (speak to interact, Ctrl+C to quit)")

	<-ctx.Done()
	a.log.Info("🛑 Shutting down...")
	_ = tr.Close()
	a.waitShutdown(&wg)
	return nil
}

func (a *app) waitShutdown(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.log.Info("✅ Shutdown complete")
	case <-time.After(shutdownTimeout):
		a.log.Warn("⚠️  Shutdown timeout, forcing exit")
	}
}

func newTokenCommand(a *app) *cobra.Command {
	var identity string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a join token for the room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.TokenSecret == "" {
				return fmt.Errorf("%s must be set to sign join tokens", config.EnvTokenSecret)
			}
			if identity == "" {
				return errors.New("--identity is required")
			}
			token, err := rtc.MintToken(a.cfg.TokenSecret, a.cfg.Room, identity, a.cfg.TokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	config.BindServerFlags(cmd.Flags(), a.cfg)
	cmd.Flags().StringVar(&identity, "identity", "", "Participant identity")
	return cmd
}

func newVoicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "voices [name]",
		Short: "List the Kokoro voices, or show one",
		Args:  cobra.MaximumNArgs(1),
		// Listing voices needs neither configuration nor models.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return config.WriteVoiceInfo(cmd.OutOrStdout(), args[0])
			}
			config.WriteVoices(cmd.OutOrStdout())
			return nil
		},
	}
}
