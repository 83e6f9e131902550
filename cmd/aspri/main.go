package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/opentalon/aspri/internal/config"
	"github.com/opentalon/aspri/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envPath := flag.String("env", "", "extra .env file loaded before the config")
	userID := flag.String("user", "local", "user id for the chat session")
	threadID := flag.String("thread", "cli", "thread id for the chat session")
	ephemeral := flag.Bool("ephemeral", false, "keep history and pending actions in memory")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	if err := run(*configPath, *envPath, session{user: *userID, thread: *threadID, ephemeral: *ephemeral}); err != nil {
		fmt.Fprintf(os.Stderr, "aspri: %v\n", err)
		os.Exit(1)
	}
}

type session struct {
	user      string
	thread    string
	ephemeral bool
}

func run(configPath, envPath string, s session) error {
	if envPath != "" {
		if err := config.LoadEnv(envPath); err != nil {
			return err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, s.ephemeral, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(); err != nil {
		return err
	}
	logger.Info("aspri: ready",
		zap.String("version", version.Get().Version),
		zap.String("model", cfg.Models.Primary),
		zap.String("store", a.storeKind))

	return chatLoop(ctx, a, s, filepath.Join(cfg.Store.DataDir, "history"))
}

func chatLoop(ctx context.Context, a *app, s session, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "kamu> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer func() { _ = rl.Close() }()
	defer a.saveThread(s.thread)

	out := rl.Stdout()
	fmt.Fprintf(out, "%s\nKetik pesan, atau /exit untuk keluar.\n", version.Get())

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		fmt.Fprint(out, "aspri> ")
		reply, err := a.chat.HandleStream(ctx, s.user, s.thread, line, func(tok string) {
			fmt.Fprint(out, tok)
		})
		fmt.Fprintln(out)
		if err != nil {
			a.logger.Warn("aspri: turn failed", zap.Error(err))
		}
		if reply.Pending != nil {
			fmt.Fprintf(out, "  (menunggu konfirmasi sampai %s)\n",
				reply.Pending.ExpiresAt.In(a.loc).Format("15:04:05"))
		}
	}
}
