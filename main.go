package main

import (
	"flag"
	"os"

	"github.com/fzft/go-text-relay/log"
	"github.com/fzft/go-text-relay/relay"
)

func main() {
	addr := flag.String("addr", relay.DefaultAddr, "listen address")
	flag.Parse()

	log.InitLogger()
	s := relay.NewServer(*addr)
	if err := s.Run(); err != nil {
		os.Exit(1)
	}
}
