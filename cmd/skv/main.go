package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/speedykv/speedykv/pkg/common/log"
	"github.com/speedykv/speedykv/pkg/config"
	"github.com/speedykv/speedykv/pkg/segment"
	"github.com/speedykv/speedykv/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".list"),
	readline.PcItem(".build",
		readline.PcItem("new"),
	),
	readline.PcItem(".merge"),
	readline.PcItem(".move"),
	readline.PcItem(".verify"),
	readline.PcItem(".stats"),
	readline.PcItem(".gc"),
	readline.PcItem(".exit"),
	readline.PcItem("GET"),
	readline.PcItem("SCAN"),
	readline.PcItem("PREFIX"),
	readline.PcItem("FUZZY"),
	readline.PcItem("REGEX"),
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "skv - inspect and maintain speedykv segments\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: skv [options]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nStart skv and type .help for the list of commands\n")
	}

	dir := flag.String("dir", "", "Segment folder (overrides the config file)")
	configPath := flag.String("config", "", "Path to a JSON or YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	log.SetLevel(level)

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing telemetry: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down telemetry: %s\n", err)
		}
	}()

	sh := newShell(os.Stdout, cfg, segment.OptionsFromConfig(cfg, tel)...)
	defer sh.close()

	runInteractive(sh)
}

// loadConfig reads the config file if one is given, then applies the
// environment and the -dir flag.
func loadConfig(path, dir string) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.NewDefaultConfig(".")
	}

	cfg.LoadFromEnv()
	if dir != "" {
		cfg.Update(func(c *config.Config) {
			c.SegmentDir = dir
		})
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runInteractive starts the interactive CLI mode
func runInteractive(sh *shell) {
	fmt.Println("skv - speedykv segment shell")
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".skv_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "skv> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(sh.prompt())

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := sh.exec(line); err != nil {
			if errors.Is(err, errExit) {
				fmt.Println("Goodbye!")
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
	}
}
