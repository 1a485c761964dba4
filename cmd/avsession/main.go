package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"
)

type command struct {
	Description string
	Run         func(args []string) error
}

var commands = map[string]command{
	"decode":    {"decode an elementary stream into raw frames", runDecode},
	"encode":    {"encode raw frames into an elementary stream", runEncode},
	"vpp":       {"scale/convert/retime raw frames", runVPP},
	"transcode": {"decode an elementary stream and encode it again", runTranscode},
}

func usage() {
	fmt.Fprintf(os.Stderr, "syntax: %s <command> [flags]\n\ncommands:\n", os.Args[0])
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, commands[name].Description)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(1)
	}
	err := cmd.Run(os.Args[2:])
	switch {
	case err == nil:
	case errors.Is(err, pflag.ErrHelp):
	case errors.Is(err, errUsage):
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
