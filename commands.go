package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"viva/ai"
	"viva/config"
	"viva/doctor"
	"viva/playback"
	"viva/recording"
	"viva/server"
	"viva/shutdown"
	"viva/store"
)

func newDoctorCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, audio devices and the AI backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			d := doctor.Deps{Config: cfg, ConfigErr: err, Out: cmd.OutOrStdout()}
			if err == nil && cfg.Responder.Provider == "backend" {
				d.Health = newBackend(cfg)
			}
			player := playback.NewPlayer(nil, nil)
			d.Chime = func() error {
				ctx, cancel := context.WithTimeout(contextOf(cmd), 2*time.Second)
				defer cancel()
				return player.PlayChime(ctx, playback.ChimeStart)
			}
			if code := doctor.Run(contextOf(cmd), d); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve past sessions, transcripts and recordings over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := g.loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if addr == "" {
				addr = cfg.Server.Addr
			}

			ctx, stop := shutdown.Context(contextOf(cmd))
			defer stop()

			st, err := store.Open(ctx, cfg.DataDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			deps := server.Deps{Store: st, Version: version}
			if cfg.Responder.Provider == "backend" {
				deps.Health = newBackend(cfg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", addr)
			return server.Serve(ctx, addr, server.NewHandler(deps))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newRecordingsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List and transcribe saved interview recordings",
	}
	cmd.AddCommand(newRecordingsListCmd(g), newRecordingsTranscribeCmd(g))
	return cmd
}

func newRecordingsListCmd(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved recordings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := g.loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			st, err := store.Open(contextOf(cmd), cfg.DataDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			recs, err := st.Recordings(contextOf(cmd))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			printRecordings(cmd, recs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printRecordings(cmd *cobra.Command, recs []store.Recording) {
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recordings yet.")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDURATION\tSIZE\tCREATED")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f MB\t%s\n",
			r.ID, r.Name, r.Duration.Round(time.Second), float64(r.Size)/(1<<20),
			r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func newRecordingsTranscribeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <id>",
		Short: "Transcribe the audio of a saved recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := g.loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			ctx := contextOf(cmd)

			st, err := store.Open(ctx, cfg.DataDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			rec, err := st.GetRecording(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no recording %s", args[0])
			}
			if err != nil {
				return err
			}
			data, err := recording.ReadAudio(rec.Path)
			if err != nil {
				return err
			}

			prov, err := newProvider(ctx, cfg, false)
			if err != nil {
				return err
			}
			if prov.transcriber == nil {
				return fmt.Errorf("provider %s cannot transcribe", cfg.Responder.Provider)
			}
			text, err := prov.transcriber.Transcribe(ctx, data, "audio/flac", ai.TranscribeOptions{Language: cfg.Language})
			if err != nil {
				return fmt.Errorf("transcribe %s: %w", rec.Name, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
