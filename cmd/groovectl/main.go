// Package main provides groovectl, a small operator CLI that publishes
// playback commands to a worker and prints the reply.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/hiraoku/grooveline/internal/app/correlator"
	"github.com/hiraoku/grooveline/internal/domain/command"
	"github.com/hiraoku/grooveline/internal/infra/broker"
	"github.com/hiraoku/grooveline/internal/infra/logger"
)

var (
	app        = kingpin.New("groovectl", "grooveline control CLI")
	redisAddr  = app.Flag("redis", "Redis address").Default("localhost:6379").Envar("REDIS_ADDR").String()
	redisPass  = app.Flag("redis-password", "Redis password").Envar("REDIS_PASSWORD").String()
	sessionKey = app.Flag("session", "Session key").Short('s').Required().String()
	timeout    = app.Flag("timeout", "Reply timeout").Default("5s").Duration()
	fire       = app.Flag("no-wait", "Publish without waiting for a reply").Bool()

	playCmd     = app.Command("play", "Start playback of a track")
	playTrackID = playCmd.Arg("track-id", "Track id").Required().String()
	playTitle   = playCmd.Flag("title", "Track title (resolved from the catalog when omitted)").String()
	playVoice   = playCmd.Flag("voice", "Voice channel").Required().String()
	playText    = playCmd.Flag("text", "Text channel").Required().String()

	pauseCmd  = app.Command("pause", "Pause playback")
	resumeCmd = app.Command("resume", "Resume playback")
	stopCmd   = app.Command("stop", "Stop playback, keep the session")
	skipCmd   = app.Command("skip", "Skip to the next queued track")

	seekCmd = app.Command("seek", "Seek within the current track")
	seekPos = seekCmd.Arg("position-ms", "Position in milliseconds").Required().Int64()

	volumeCmd = app.Command("volume", "Set playback volume")
	volumeVal = volumeCmd.Arg("volume", "Volume 0-200").Required().Int()

	loopCmd  = app.Command("loop", "Set the loop mode")
	loopMode = loopCmd.Arg("mode", "off, track or queue").Required().Enum("off", "track", "queue")

	addCmd     = app.Command("add", "Append a track to the queue")
	addTrackID = addCmd.Arg("track-id", "Track id").Required().String()
	addTitle   = addCmd.Flag("title", "Track title (resolved from the catalog when omitted)").String()

	removeCmd = app.Command("remove", "Remove a queue entry")
	removeIdx = removeCmd.Arg("index", "Queue index").Required().Int()

	moveCmd  = app.Command("move", "Move a queue entry")
	moveFrom = moveCmd.Arg("from", "Source index").Required().Int()
	moveTo   = moveCmd.Arg("to", "Target index").Required().Int()

	shuffleCmd = app.Command("shuffle", "Shuffle the queue")
	clearCmd   = app.Command("clear", "Clear the queue")

	npCmd    = app.Command("np", "Show the current track")
	queueCmd = app.Command("queue", "Show the queue")

	searchCmd   = app.Command("search", "Search the track catalog")
	searchQuery = searchCmd.Arg("query", "Search query").Required().String()
	searchLimit = searchCmd.Flag("limit", "Max results").Default("10").Int()

	disconnectCmd = app.Command("disconnect", "End the session and reset its state")
)

func main() {
	_ = godotenv.Load()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := logger.Init(logger.Config{Output: "stderr", Level: "warn"}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	env := buildEnvelope(cmd)

	if err := run(env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// buildEnvelope maps the parsed CLI command onto a wire envelope.
func buildEnvelope(cmd string) command.Envelope {
	env := command.Envelope{SessionKey: *sessionKey}

	switch cmd {
	case playCmd.FullCommand():
		env.Type = command.TypePlay
		env.Payload = map[string]any{
			"trackId":      *playTrackID,
			"title":        *playTitle,
			"voiceChannel": *playVoice,
			"textChannel":  *playText,
		}
	case pauseCmd.FullCommand():
		env.Type = command.TypePause
	case resumeCmd.FullCommand():
		env.Type = command.TypeResume
	case stopCmd.FullCommand():
		env.Type = command.TypeStop
	case skipCmd.FullCommand():
		env.Type = command.TypeSkip
	case seekCmd.FullCommand():
		env.Type = command.TypeSeek
		env.Payload = map[string]any{"positionMs": *seekPos}
	case volumeCmd.FullCommand():
		env.Type = command.TypeSetVolume
		env.Payload = map[string]any{"volume": *volumeVal}
	case loopCmd.FullCommand():
		env.Type = command.TypeSetLoopMode
		env.Payload = map[string]any{"mode": *loopMode}
	case addCmd.FullCommand():
		env.Type = command.TypeAddToQueue
		env.Payload = map[string]any{"trackId": *addTrackID, "title": *addTitle}
	case removeCmd.FullCommand():
		env.Type = command.TypeRemove
		env.Payload = map[string]any{"index": *removeIdx}
	case moveCmd.FullCommand():
		env.Type = command.TypeMove
		env.Payload = map[string]any{"from": *moveFrom, "to": *moveTo}
	case shuffleCmd.FullCommand():
		env.Type = command.TypeShuffle
	case clearCmd.FullCommand():
		env.Type = command.TypeClear
	case npCmd.FullCommand():
		env.Type = command.TypeQueryNowPlaying
	case queueCmd.FullCommand():
		env.Type = command.TypeQueryQueue
	case searchCmd.FullCommand():
		env.Type = command.TypeSearch
		env.Payload = map[string]any{"query": *searchQuery, "limit": *searchLimit}
	case disconnectCmd.FullCommand():
		env.Type = command.TypeDisconnect
	}

	return env
}

func run(env command.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout+5*time.Second)
	defer cancel()

	b := broker.New(broker.Config{
		Addr:     *redisAddr,
		Password: *redisPass,
	}, zlog.Logger)
	defer func() { _ = b.Close() }()

	if err := b.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", *redisAddr, err)
	}

	co := correlator.New(b, *timeout, zlog.Logger)

	if *fire {
		if err := co.Send(ctx, env); err != nil {
			return err
		}
		fmt.Println("sent (no reply requested)")
		return nil
	}

	reply, err := co.SendAndWait(ctx, env, *timeout)
	if errors.Is(err, correlator.ErrTimeout) {
		fmt.Println("no reply before deadline; outcome unknown")
		return nil
	}
	if err != nil {
		return err
	}

	printReply(reply)
	if !reply.OK {
		os.Exit(1)
	}
	return nil
}

func printReply(reply command.Reply) {
	if !reply.OK {
		fmt.Printf("rejected: %s\n", reply.ErrorReason)
		return
	}
	if len(reply.Result) == 0 {
		fmt.Println("ok")
		return
	}
	var buf json.RawMessage = reply.Result
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		fmt.Println(string(reply.Result))
		return
	}
	fmt.Println(string(pretty))
}
