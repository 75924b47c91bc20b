// Command loadtest drives a relay with simulated users.
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
	"sort"
)

type command struct {
	summary string
	run     func(args []string)
}

var commands = map[string]command{
	"saturate": {"Open N identified connections and hold them idle", runSaturate},
	"chat":     {"Pair users, exchange messages, then stop", runChat},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		usage(os.Stdout)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage(os.Stderr)
		os.Exit(1)
	}
	cmd.run(os.Args[2:])
}

func usage(w *os.File) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: loadtest <command> [options]")
	fmt.Fprintln(w, "\ncommands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w, "\nrun 'loadtest <command> -h' for its options")
}
