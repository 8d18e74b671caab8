package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codeduel/client/internal/channel"
	"github.com/codeduel/client/internal/config"
	"github.com/codeduel/client/internal/game"
	"github.com/codeduel/client/internal/session"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "codeduel.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sock, err := channel.Dial(dialCtx, cfg.ServerURL, logger)
	cancel()
	if err != nil {
		logger.Fatal("connect failed", zap.Error(err))
	}
	defer sock.Close()

	sess := session.New(context.Background(), sock, clockwork.NewRealClock(), logger)
	defer func() { sess.Inbox() <- session.Shutdown{} }()

	views := make(chan session.View, 16)
	sess.Inbox() <- session.Watch{ID: "terminal", Outbox: views}
	go render(views)

	fmt.Println("codeduel: /create NAME, /join NAME CODE, /start [MIN ROUNDS], /run, /watch USER, /home, /skip, /report, /continue, /leave, /quit")
	repl(sess, cfg.Username)
}

// repl reads slash commands from stdin; anything else is chat.
func repl(sess *session.Session, defaultUser string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sess.Inbox() <- session.SendChat{Message: line}
			continue
		}

		fields := strings.Fields(line)
		arg := func(i int, fallback string) string {
			if len(fields) > i {
				return fields[i]
			}
			return fallback
		}

		switch fields[0] {
		case "/create":
			sess.Inbox() <- session.CreateParty{Username: arg(1, defaultUser)}
		case "/join":
			sess.Inbox() <- session.JoinParty{Username: arg(1, defaultUser), PartyCode: arg(2, "")}
		case "/start":
			sess.Inbox() <- session.StartGame{Settings: game.Settings{
				TimeLimit: arg(1, ""),
				Rounds:    arg(2, ""),
				Easy:      true,
				Medium:    true,
				Hard:      true,
			}}
		case "/code":
			sess.Inbox() <- session.Edit{Text: strings.TrimPrefix(line, "/code ")}
		case "/run":
			sess.Inbox() <- session.Submit{}
		case "/watch":
			sess.Inbox() <- session.Spectate{Username: arg(1, "")}
		case "/home":
			sess.Inbox() <- session.GoHome{}
		case "/skip":
			sess.Inbox() <- session.SkipProblem{}
		case "/report":
			sess.Inbox() <- session.ReportProblem{}
		case "/continue":
			sess.Inbox() <- session.ContinueRound{}
		case "/leave":
			sess.Inbox() <- session.LeaveParty{}
		case "/quit":
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

// render prints whatever changed between consecutive view snapshots.
func render(views <-chan session.View) {
	var seenChat, lastBanner int
	var phase game.Phase
	for v := range views {
		if seenChat > len(v.Chat) {
			// Chat was cleared by leaving the party.
			seenChat = 0
		}
		for _, entry := range v.Chat[seenChat:] {
			fmt.Println(entry.Message)
		}
		seenChat = len(v.Chat)

		for _, b := range v.Banners {
			if b.ID > lastBanner {
				fmt.Println("!", b.Text)
				lastBanner = b.ID
			}
		}

		if v.Phase != phase {
			phase = v.Phase
			switch phase {
			case game.PhaseCreated, game.PhaseJoined:
				fmt.Printf("party %s: %s\n", v.Party.Code, strings.Join(v.Party.Members, ", "))
			case game.PhaseInGame:
				if v.Problem != nil {
					fmt.Printf("round %d/%d: %s (%s)\n",
						v.Round.Current, v.Round.Total, v.Problem.Name, v.Problem.Difficulty)
				}
			case game.PhaseRoundEnd, game.PhaseFinished:
				for _, line := range v.Leaderboard.Lines() {
					fmt.Println(line)
				}
			}
		}
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
