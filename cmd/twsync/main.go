package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/twsync/internal/client"
	"github.com/danmuck/twsync/internal/config"
	"github.com/danmuck/twsync/internal/logging"
	"github.com/danmuck/twsync/internal/protocol"
	"github.com/danmuck/twsync/internal/task"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const usage = `usage: twsync [-config file.toml] [-env file.env] <command> [flags]

commands:
  statistics            request account statistics
  sync [-sync-key UUID] [-tasks file.jsonl]
                        upload tasks and print the server's changes
  init [-force] [path]  write a config template (default twsync.toml)
  validate              load and validate the configuration
`

var errUsage = errors.New("twsync: invalid usage")

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "twsync: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("twsync", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	configPath := global.String("config", "", "TOML config file")
	envFile := global.String("env", "", "comma-separated dotenv files")
	if err := global.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	rest := global.Args()
	if len(rest) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	command, cmdArgs := rest[0], rest[1:]
	switch command {
	case "init":
		return runInit(cmdArgs, out)
	case "validate":
		cfg, err := config.Load(*configPath, dotenvFiles(*envFile)...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "config ok: %s:%d as %s/%s\n", cfg.Host(), cfg.Port(), cfg.Organization, cfg.User)
		return nil
	case "statistics", "sync":
		cfg, err := config.Load(*configPath, dotenvFiles(*envFile)...)
		if err != nil {
			return err
		}
		c, err := client.New(cfg, cfg.Protocol, client.OptionsFromSettings(cfg))
		if err != nil {
			return err
		}
		if command == "statistics" {
			return runStatistics(ctx, c, cmdArgs, out)
		}
		return runSync(ctx, c, cmdArgs, out)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func runInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	target := "twsync.toml"
	if fs.NArg() > 0 {
		target = fs.Arg(0)
	}
	if err := config.WriteTemplate(target, *force); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote config template to %s\n", target)
	return nil
}

func runStatistics(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: statistics takes no arguments", errUsage)
	}
	resp, err := c.Statistics(ctx)
	if err != nil {
		return err
	}
	return printResponse(out, resp)
}

func runSync(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	rawKey := fs.String("sync-key", "", "sync key from the previous sync")
	tasksFile := fs.String("tasks", "", "file with one JSON task per line")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	var syncKey *uuid.UUID
	if strings.TrimSpace(*rawKey) != "" {
		key, err := uuid.Parse(strings.TrimSpace(*rawKey))
		if err != nil {
			return fmt.Errorf("%w: sync key '%s' is not a parsable UUID", errUsage, *rawKey)
		}
		syncKey = &key
	}
	var tasks []task.Task
	if *tasksFile != "" {
		var err error
		if tasks, err = readTasks(*tasksFile); err != nil {
			return err
		}
	}

	resp, err := c.Sync(ctx, syncKey, tasks)
	if err != nil {
		return err
	}
	return printResponse(out, resp)
}

func readTasks(path string) ([]task.Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	defer f.Close()

	var tasks []task.Task
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		t, err := task.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("read tasks: %s:%d: %w", path, line, err)
		}
		tasks = append(tasks, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return tasks, nil
}

func printResponse(out io.Writer, resp protocol.Response) error {
	fmt.Fprintf(out, "%d %s\n", resp.Code, resp.Status)
	if resp.SyncKey != nil {
		fmt.Fprintf(out, "sync key: %s\n", resp.SyncKey)
	}
	for _, t := range resp.Tasks {
		line, err := task.Marshal(t)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, line)
	}
	if !resp.OK() {
		log.Warn().Int("code", resp.Code).Str("status", resp.Status).Msg("twsync request rejected")
		return fmt.Errorf("server replied %d %s", resp.Code, resp.Status)
	}
	return nil
}

func dotenvFiles(raw string) []string {
	var files []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}
