package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/api"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/audio"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/audio/device"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/client"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/config"
)

var (
	verbose  bool
	relayURL string
	token    string
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "live-client",
		Short: "Terminal client for the Dawayir live relay",
		Long:  "Streams the microphone to the relay, plays the agent's voice and prints canvas updates.",
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&relayURL, "url", "", "Relay WebSocket URL (overrides LIVE_RELAY_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Relay token (overrides LIVE_RELAY_TOKEN)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if verbose || strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}

func loadConfig() (config.Client, error) {
	cfg, err := config.LoadClientFromEnv()
	if relayURL != "" {
		cfg.RelayURL = relayURL
		err = cfg.Validate()
	}
	if token != "" {
		cfg.Token = token
	}
	return cfg, err
}

func runCmd() *cobra.Command {
	var (
		snapshot string
		noMic    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a live session",
		Long: "Connects to the relay and starts talking. Lines typed on stdin are sent as text turns;\n" +
			"\"/snap <file.jpg>\" sends a camera frame and \"/quit\" ends the session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ccfg := client.Config{
				URL:              cfg.RelayURL,
				Token:            cfg.Token,
				Reconnect:        cfg.Reconnect,
				MaxPending:       cfg.MaxPending,
				MicDefer:         cfg.MicDefer,
				RestoreWindow:    cfg.RestoreWindow,
				SpeakingDebounce: cfg.SpeakingDebounce,
				ContextLines:     cfg.ContextLines,
				BootstrapPrompt:  cfg.BootstrapPrompt,
			}
			if snapshot != "" {
				img, err := os.ReadFile(snapshot)
				if err != nil {
					return fmt.Errorf("read snapshot: %w", err)
				}
				ccfg.Snapshot = img
			}

			if err := device.Initialize(); err != nil {
				return err
			}
			defer device.Terminate()

			player, err := audio.NewPlayer(cfg.Playback, 0)
			if err != nil {
				return err
			}
			var (
				speakerOnce sync.Once
				speaker     *device.Speaker
				speakerErr  error
			)
			prime := func() error {
				speakerOnce.Do(func() { speaker, speakerErr = device.OpenSpeaker(player) })
				return speakerErr
			}

			term := newTerminal(cmd.OutOrStdout())
			deps := client.Deps{
				Dialer:        client.WebsocketDialer{},
				Canvas:        term,
				Observer:      term,
				Playback:      player,
				PrimePlayback: prime,
				Logger:        logger,
			}
			if !noMic {
				deps.Microphone = &micSource{cfg: cfg.Capture, logger: logger}
			}
			ctrl := client.New(ccfg, deps)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go ctrl.Run(ctx)

			if err := ctrl.Connect(ctx); err != nil {
				return err
			}
			go readInput(ctx, ctrl, stop, logger)

			<-ctx.Done()
			<-ctrl.Done()

			player.Stop()
			if speaker != nil {
				if err := speaker.Close(); err != nil {
					logger.Warn("Failed to close speaker", zap.Error(err))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "JPEG sent with the opening prompt")
	cmd.Flags().BoolVar(&noMic, "no-mic", false, "Text only; do not open the microphone")
	return cmd
}

func readInput(ctx context.Context, ctrl *client.Controller, quit func(), logger *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			quit()
			return
		case strings.HasPrefix(line, "/snap "):
			img, err := os.ReadFile(strings.TrimSpace(strings.TrimPrefix(line, "/snap ")))
			if err != nil {
				logger.Warn("Failed to read snapshot", zap.Error(err))
				continue
			}
			if err := ctrl.SendImage(ctx, img); err != nil {
				logger.Warn("Failed to send snapshot", zap.Error(err))
			}
		default:
			if err := ctrl.SendText(ctx, line); err != nil {
				logger.Warn("Failed to send text", zap.Error(err))
			}
		}
	}
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := device.Initialize(); err != nil {
				return err
			}
			defer device.Terminate()

			infos, err := device.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, d := range infos {
				mark := " "
				switch {
				case d.DefaultInput && d.DefaultOutput:
					mark = "*"
				case d.DefaultInput:
					mark = ">"
				case d.DefaultOutput:
					mark = "<"
				}
				fmt.Fprintf(out, "%s %2d  %-40s  in=%d out=%d  %.0f Hz  (%s)\n",
					mark, i, d.Name, d.InputChannels, d.OutputChannels, d.DefaultSampleRate, d.HostAPI)
			}
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		server    string
		clientID  string
		accessKey string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Request a relay token",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := sonic.Marshal(api.TokenRequest{ClientID: clientID, AccessKey: accessKey})
			if err != nil {
				return err
			}
			httpClient := &http.Client{Timeout: 10 * time.Second}
			resp, err := httpClient.Post(strings.TrimSuffix(server, "/")+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("request token: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				var e api.ErrorResponse
				_ = sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&e)
				return fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, e.Message)
			}
			var tr api.TokenResponse
			if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&tr); err != nil {
				return fmt.Errorf("decode token response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tr.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "client %s, expires %s\n", tr.ClientID, tr.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "Relay HTTP base URL")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Client ID to embed in the token")
	cmd.Flags().StringVar(&accessKey, "access-key", os.Getenv("RELAY_ACCESS_KEY"), "Relay access key")
	return cmd
}
