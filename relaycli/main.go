package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fzft/go-text-relay/cli"
)

func main() {
	host := flag.String("h", "127.0.0.1", "server hostname")
	port := flag.Int("p", 51717, "server port")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("relay-cli %s\n", cli.RelayVersion)
		return
	}

	c := cli.New(&cli.Config{
		ConnInfo: &cli.ConnInfo{HostIP: *host, HostPort: *port},
	})
	if err := c.Run(); err != nil {
		os.Exit(1)
	}
}
