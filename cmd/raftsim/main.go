package main

import (
	"log"
	"os"

	"github.com/isparth/Distributed-Systems/raft-sim/internal/server"
)

func main() {
	if err := server.Run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
