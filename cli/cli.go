package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
)

var (
	RelayVersion = "1.0.0"

	RelayCliHistFileEnv     = "RELAYCLI_HISTFILE"
	RelayCliHistFileDefault = ".relaycli_history"
)

type Config struct {
	ConnInfo *ConnInfo
}

type Cli struct {
	config *Config
}

func New(config *Config) *Cli {
	if config.ConnInfo == nil {
		config.ConnInfo = DefaultConnInfo()
	}
	return &Cli{config: config}
}

// Run connects to the server and forwards operator input line by line until
// interrupted or stdin runs dry. With a terminal on stdin it offers a
// line-edited prompt with history; otherwise it streams stdin through.
func (cli *Cli) Run() error {
	client, err := Dial(cli.config.ConnInfo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to %s:%d: %v\n",
			cli.config.ConnInfo.HostIP, cli.config.ConnInfo.HostPort, err)
		return err
	}
	defer client.Close()

	fmt.Printf("Client address: %s\n", client.LocalAddr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nConnection ended")
		client.Close()
		os.Exit(0)
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		err = cli.repl(client)
	} else {
		err = cli.pipe(client)
	}
	if err == nil {
		fmt.Println("Connection ended")
	}
	return err
}

func (cli *Cli) repl(client *Client) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := histFilePath()
	if f, err := os.Open(histPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt("input : ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if input == "" {
			continue
		}

		line.AppendHistory(input)
		if err := client.Send(input); err != nil {
			fmt.Fprintf(os.Stderr, "error sending message: %v\n", err)
			return err
		}
	}
}

func (cli *Cli) pipe(client *Client) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := client.Send(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func histFilePath() string {
	if p := os.Getenv(RelayCliHistFileEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return RelayCliHistFileDefault
	}
	return filepath.Join(home, RelayCliHistFileDefault)
}
