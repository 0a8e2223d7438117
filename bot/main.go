// Command bot is a headless duel peer. It joins a room (or the matchmaking
// queue), runs the simulation at a fixed rate and lets a rule-based pilot
// work the turret until the game ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/yzoe76300/Battle-of-Yavin/protocol"
	"github.com/yzoe76300/Battle-of-Yavin/sim"
	"golang.org/x/sync/errgroup"
)

var errGameOver = errors.New("game over")

var _ sim.Emitter = (*Peer)(nil)

type config struct {
	server    string
	room      string
	userID    string
	name      string
	role      string
	codec     string
	fps       int
	matchmake bool
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var cfg config
	flag.StringVar(&cfg.server, "server", getEnvDefault("SERVER_URL", "ws://localhost:8080/ws"), "relay WebSocket URL")
	flag.StringVar(&cfg.room, "room", getEnvDefault("ROOM", ""), "room to join (empty with -matchmake)")
	flag.StringVar(&cfg.userID, "user", "", "user id (default: random)")
	flag.StringVar(&cfg.name, "name", "bot", "display name")
	flag.StringVar(&cfg.role, "role", "", "preferred role: player1 or player2")
	flag.StringVar(&cfg.codec, "codec", protocol.CodecJSON, "wire codec: json or msgpack")
	flag.IntVar(&cfg.fps, "fps", 60, "simulation steps per second")
	flag.BoolVar(&cfg.matchmake, "matchmake", false, "queue for a random opponent instead of joining -room")
	flag.Parse()

	if cfg.userID == "" {
		cfg.userID = "bot_" + uuid.NewString()[:8]
	}
	if cfg.room == "" && !cfg.matchmake {
		slog.Error("either -room or -matchmake is required")
		os.Exit(2)
	}
	if cfg.fps <= 0 {
		cfg.fps = 60
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runBot(ctx, cfg, logger.With("user", cfg.userID)); err != nil {
		slog.Error("bot stopped", "err", err)
		os.Exit(1)
	}
}

// runBot reconnects until the duel finishes or ctx is cancelled.
func runBot(ctx context.Context, cfg config, logger *slog.Logger) error {
	for {
		err := botSession(ctx, cfg, logger)
		switch {
		case err == nil, ctx.Err() != nil:
			return nil
		case errors.Is(err, errRoomFull):
			return err
		}
		logger.Warn("bot session ended, reconnecting", "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func dialURL(server, codec string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("codec", codec)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// botSession plays one connection. It returns nil once the game has ended.
func botSession(ctx context.Context, cfg config, logger *slog.Logger) error {
	codec, err := protocol.CodecByName(cfg.codec)
	if err != nil {
		return err
	}
	u, err := dialURL(cfg.server, codec.Name())
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	logger.Info("connected", "server", cfg.server, "codec", codec.Name())

	frameType := websocket.MessageText
	if codec.Binary() {
		frameType = websocket.MessageBinary
	}

	peer := NewPeer(codec, logger, cfg.userID, cfg.name, nil)
	if cfg.matchmake {
		peer.Matchmake()
	} else {
		peer.Join(cfg.room, cfg.role)
	}

	inbox := make(chan []byte, 64)
	eg, ctx := errgroup.WithContext(ctx)

	// receive loop
	eg.Go(func() error {
		defer close(inbox)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			select {
			case inbox <- data:
			case <-ctx.Done():
				return nil
			}
		}
	})

	// decide/send loop
	eg.Go(func() error {
		var pilot Pilot
		ticker := time.NewTicker(time.Second / time.Duration(cfg.fps))
		defer ticker.Stop()
		last := time.Now()

		flush := func() error {
			for _, frame := range peer.Flush() {
				if err := conn.Write(ctx, frameType, frame); err != nil {
					return fmt.Errorf("write: %w", err)
				}
			}
			return nil
		}
		if err := flush(); err != nil {
			return err
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case data, ok := <-inbox:
				if !ok {
					return nil
				}
				if err := peer.Handle(data); err != nil {
					return err
				}
			case now := <-ticker.C:
				dt := now.Sub(last).Seconds()
				last = now
				if e := peer.Engine(); peer.Ready() && !e.Ended() {
					e.SetInput(pilot.Decide(e))
				}
				peer.Tick(dt)
			}
			if err := flush(); err != nil {
				return err
			}
			if e := peer.Engine(); e != nil && e.Ended() {
				term, _ := e.Terminal()
				logger.Info("game over", "winner", term.Winner, "left", term.Lives.Left, "right", term.Lives.Right, "fallback", term.Fallback)
				return errGameOver
			}
		}
	})

	err = eg.Wait()
	if errors.Is(err, errGameOver) {
		conn.Close(websocket.StatusNormalClosure, "game over")
		return nil
	}
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	return err
}
