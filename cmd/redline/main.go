// Command redline is a one-shot client for redis-protocol servers: it
// connects, runs the command given on the command line and prints the decoded
// reply. It exists mostly as a smoke-test harness for the library.
//
//	redline [-config redline.toml] [-addr host:port] CMD [ARG...]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediocregopher/redline"
	"github.com/mediocregopher/redline/resp"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a TOML config file")
		addr       = flag.String("addr", "", "server address, overrides the config file")
		timeout    = flag.Duration("timeout", 0, "dial/command timeout, overrides the config file")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := defaultClientConfig()
	if *configPath != "" {
		var err error
		if cfg, err = loadClientConfig(*configPath); err != nil {
			log.Fatal().Err(err).Msg("bad config")
		}
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(lvl)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *timeout != 0 {
		cfg.Timeout = *timeout
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: redline [-config file] [-addr host:port] CMD [ARG...]")
		os.Exit(2)
	}
	cmdArgs := make([]interface{}, len(args))
	for i, a := range args {
		cmdArgs[i] = a
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	c, err := redline.Dial(ctx, cfg.Network, cfg.Addr, redline.WithLogger[*resp.Reply](log))
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Addr).Msg("dial failed")
	}
	defer c.Close()

	start := time.Now()
	r, err := c.Do(ctx, cmdArgs...)
	if err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
	log.Debug().Dur("took", time.Since(start)).Msg("command completed")

	render(os.Stdout, r, "")
	if r.Type == resp.TypeError {
		os.Exit(1)
	}
}

// render prints a reply the way interactive redis clients conventionally do.
func render(w *os.File, r *resp.Reply, indent string) {
	switch r.Type {
	case resp.TypeStatus:
		fmt.Fprintf(w, "%s%s\n", indent, r.Str)
	case resp.TypeError:
		fmt.Fprintf(w, "%s(error) %s\n", indent, r.Str)
	case resp.TypeInteger:
		fmt.Fprintf(w, "%s(integer) %d\n", indent, r.Int)
	case resp.TypeNil:
		fmt.Fprintf(w, "%s(nil)\n", indent)
	case resp.TypeBulkString:
		fmt.Fprintf(w, "%s%s\n", indent, strconv.Quote(string(r.Str)))
	case resp.TypeArray:
		if len(r.Elems) == 0 {
			fmt.Fprintf(w, "%s(empty array)\n", indent)
			return
		}
		for i, e := range r.Elems {
			fmt.Fprintf(w, "%s%d) ", indent, i+1)
			render(w, e, "")
		}
	}
}
