package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/normanking/lumi/internal/audio"
	"github.com/normanking/lumi/internal/conversation"
	"github.com/normanking/lumi/internal/orchestrator"
	"github.com/normanking/lumi/internal/playback"
	"github.com/normanking/lumi/internal/reply"
	"github.com/normanking/lumi/internal/store"
	"github.com/normanking/lumi/internal/turn"
	"github.com/spf13/cobra"
)

var (
	turnOut    string
	turnPlay   string
	turnNoSave bool
)

var turnCmd = &cobra.Command{
	Use:   "turn <file.wav>",
	Short: "Replay a recorded journal entry as a conversation",
	Long: `Split a WAV recording into utterances with voice-activity detection and
run each one through transcription, reply generation and speech synthesis.
The finished conversation is saved like a live session.`,
	Args: cobra.ExactArgs(1),
	RunE: runTurn,
}

func init() {
	turnCmd.Flags().StringVar(&turnOut, "out", "", "write synthesized replies to this directory")
	turnCmd.Flags().StringVar(&turnPlay, "play", "", `pipe replies to a player command, e.g. "ffplay -nodisp -autoexit -"`)
	turnCmd.Flags().BoolVar(&turnNoSave, "no-save", false, "do not store the conversation")
}

func replayPlayer() (playback.Player, *playback.FilePlayer) {
	switch {
	case turnPlay != "":
		fields := strings.Fields(turnPlay)
		return playback.CommandPlayer{Name: fields[0], Args: fields[1:]}, nil
	case turnOut != "":
		fp := &playback.FilePlayer{Dir: turnOut}
		return fp, fp
	default:
		return playback.DiscardPlayer{}, nil
	}
}

// splitUtterances runs the recording through the same VAD and turn
// detector a live microphone uses.
func splitUtterances(ctx context.Context, src *audio.WAVSource) ([]audio.Utterance, error) {
	var out []audio.Utterance
	rec := audio.NewRecorder(audio.RecorderConfig{
		SampleRate:      src.SampleRate(),
		SilenceDuration: cfg.Audio.SilenceDuration,
	}, audio.RecorderCallbacks{
		OnUtterance: func(u audio.Utterance) { out = append(out, u) },
	})
	capture := audio.NewCapture(audio.NewVAD(cfg.Audio.VADThreshold))
	if err := capture.Run(ctx, src, rec.Handle); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	rec.Flush()
	return out, nil
}

func runTurn(cmd *cobra.Command, args []string) error {
	log := logs.Component("turn")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := audio.OpenWAV(args[0], cfg.Audio.FrameSize)
	if err != nil {
		return err
	}
	defer src.Close()

	utterances, err := splitUtterances(ctx, src)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if len(utterances) == 0 {
		fmt.Println(dimStyle.Render(orchestrator.UserMessage("NO_SPEECH")))
		return nil
	}

	svc := newServices(cfg)
	player, files := replayPlayer()
	oc := orchestratorConfig(cfg)
	oc.SampleRate = src.SampleRate()
	orch := orchestrator.New(logs.Zerolog(), oc, svc.transcriber, svc.synthesizer, player, orchestrator.Hooks{
		OnNotice: func(n orchestrator.Notice) {
			fmt.Println(dimStyle.Render("  " + n.Message))
		},
	})
	defer orch.Close()

	machine := turn.NewMachine(turn.MachineConfig{Strict: cfg.Turn.Strict, HistorySize: cfg.Turn.HistorySize})
	req := orchestrator.StateRequesterFunc(func(to turn.State, reason string) error {
		_, err := machine.Transition(to, reason)
		return err
	})

	conversationID := uuid.NewString()
	var exchanges []conversation.Exchange
	generate := func(ctx context.Context, transcript string) (*reply.Response, error) {
		resp, err := svc.generator.Generate(ctx, &reply.Request{
			Transcript:     transcript,
			UserID:         cfg.User.ID,
			ConversationID: conversationID,
		})
		if err == nil && resp != nil && strings.TrimSpace(resp.Response) != "" {
			exchanges = append(exchanges, conversation.Exchange{
				UserText: transcript,
				LumiText: resp.Response,
				FollowUp: resp.FollowUpQuestion,
				At:       time.Now(),
			})
		}
		return resp, err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Lumi • %d utterance(s)", len(utterances))))
	started := time.Now()
	for i, u := range utterances {
		if s := machine.Current(); s == turn.StateIdle || s == turn.StateWaitingForUser {
			if _, err := machine.Transition(turn.StateListening, "replay"); err != nil {
				return err
			}
		}

		res, err := orch.ProcessConversationTurn(ctx, u.PCM16(), generate, req)
		fmt.Println(userStyle.Render(fmt.Sprintf("You (%d, %s): ", i+1, u.Duration().Round(100*time.Millisecond))) + res.Transcript.Text)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Println(errorStyle.Render("  " + err.Error()))
			log.Warn().Err(err).Int("utterance", i+1).Msg("Turn failed")
			machine.ForceIdle("turn_failed")
			continue
		}
		if res.Reply != nil {
			line := res.Reply.Response
			if res.Reply.FollowUpQuestion != "" {
				line += " " + res.Reply.FollowUpQuestion
			}
			fmt.Println(lumiStyle.Render("Lumi: ") + line)
		}
		if res.TextOnly {
			fmt.Println(dimStyle.Render("  (text only)"))
		}
	}

	if files != nil {
		for _, p := range files.Paths() {
			fmt.Println(dimStyle.Render("  wrote " + p))
		}
	}
	if turnNoSave || len(exchanges) == 0 {
		return nil
	}

	db, err := store.Open(logs.Zerolog(), cfg.Store.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	last := exchanges[len(exchanges)-1]
	rec := &store.Conversation{
		ID:             conversationID,
		UserID:         cfg.User.ID,
		Transcript:     conversation.FormatTranscript(exchanges),
		LumiReflection: last.LumiText,
		LumiQuestion:   last.FollowUp,
		Duration:       time.Since(started),
		CreatedAt:      started,
	}
	if err := db.AppendConversation(ctx, rec); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	fmt.Println(successStyle.Render("Saved conversation " + rec.ID))
	return nil
}
