package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"lv-restrict/internal/auth"
	"lv-restrict/internal/config"
	"lv-restrict/internal/eligibility"
	"lv-restrict/internal/logging"
	"lv-restrict/internal/modal"
	"lv-restrict/internal/restriction"
	"lv-restrict/internal/session"
	"lv-restrict/internal/wsclient"
)

// restrictwatch is a terminal session: it keeps the realtime channel open,
// prints restriction dialogs as they would appear and accepts commands.
func main() {
	apiURL := flag.String("api", "http://localhost:8080", "API base URL")
	token := flag.String("token", os.Getenv("RESTRICT_TOKEN"), "user JWT (or RESTRICT_TOKEN)")
	messagesFile := flag.String("messages", "", "restriction messages YAML")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := logging.New("development", *level)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if strings.TrimSpace(*token) == "" {
		logger.Fatal("token is required")
	}
	userID, err := auth.SubjectUnverified(*token)
	if err != nil {
		logger.Fatal("read token", zap.Error(err))
	}
	messages, err := config.LoadMessages(*messagesFile)
	if err != nil {
		logger.Fatal("load messages", zap.Error(err))
	}
	minimum, err := messages.MinimumDeposit()
	if err != nil {
		logger.Fatal("default minimum deposit", zap.Error(err))
	}

	base := strings.TrimRight(*apiURL, "/")
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/v1/ws"
	channel := wsclient.NewChannel(wsclient.Options{URL: wsURL, Logger: logger.Named("ws")})
	agg := eligibility.NewAggregator(eligibility.NewHTTPSources(base, *token, nil), eligibility.Options{
		Policy: eligibility.Policy{
			DefaultMinimum: minimum,
			GenericMessage: messages.Templates.Generic,
		},
		Logger: logger.Named("eligibility"),
	})
	sess := session.New(session.Options{
		UserID:     userID,
		Token:      *token,
		Channel:    channel,
		Aggregator: agg,
		Gate:       modal.NewGate(),
		Presenter:  terminal{},
		Logger:     logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	stopStatus := channel.OnStatus(func(s wsclient.Status) { fmt.Printf("[realtime] %s\n", s) })
	defer stopStatus()
	sess.Start(ctx)
	defer sess.Close()

	fmt.Println("commands: w = withdraw, d = dismiss dialog, s = show decision, q = quit")
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
		close(lines)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch line {
			case "w":
				if d, allowed := sess.AttemptWithdraw(ctx); allowed {
					fmt.Printf("withdrawal allowed (deposited %s)\n", d.TotalDeposited.StringFixed(2))
				}
			case "d":
				sess.DismissRestriction()
			case "s":
				printDecision(sess.Decision())
			case "q":
				return
			}
		}
	}
}

type terminal struct{}

func (terminal) ShowRestriction(id string, d restriction.Decision) {
	fmt.Printf("\n=== %s ===\n%s\n", id, d.Message)
	printDecision(d)
}

func (terminal) HideRestriction(id string) {
	fmt.Printf("=== %s closed: withdrawals available ===\n", id)
}

func (terminal) Notice(title, body string) {
	fmt.Printf("[notice] %s: %s\n", title, body)
}

func printDecision(d restriction.Decision) {
	fmt.Printf("restricted=%t can_withdraw=%t minimum=%s deposited=%s shortfall=%s\n",
		d.HasRestriction, d.CanWithdraw,
		d.MinimumRequired.StringFixed(2), d.TotalDeposited.StringFixed(2), d.Shortfall.StringFixed(2))
}
