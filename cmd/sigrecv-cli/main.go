// Command sigrecv-cli drives a sigrecv.Client against a message-relay
// deployment.
//
// Usage:
//
//	sigrecv-cli receive    Connect and print incoming messages until interrupted
//	sigrecv-cli drain      Fetch and dispatch queued messages once over REST
//	sigrecv-cli devices    List registered devices for this account
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/relaysig/sigrecv"
)

type globalFlags struct {
	dbPath  string
	apiURL  string
	cdnURL  string
	verbose bool
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.dbPath, "db", "", "path to the SQLite session database")
	fs.StringVar(&g.apiURL, "api-url", "", "override the REST API base URL")
	fs.StringVar(&g.cdnURL, "cdn-url", "", "override the attachment CDN base URL")
	fs.BoolVar(&g.verbose, "v", false, "enable verbose logging")
}

func (g *globalFlags) clientOpts() []sigrecv.Option {
	var opts []sigrecv.Option
	if g.dbPath != "" {
		opts = append(opts, sigrecv.WithDBPath(g.dbPath))
	}
	if g.apiURL != "" {
		opts = append(opts, sigrecv.WithAPIURL(g.apiURL))
	}
	if g.cdnURL != "" {
		opts = append(opts, sigrecv.WithCDNURL(g.cdnURL))
	}
	if g.verbose {
		opts = append(opts, sigrecv.WithLogger(log.New(os.Stderr, "", log.LstdFlags)))
	}
	return opts
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var g globalFlags
	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	g.register(fs)
	fs.Parse(os.Args[2:])

	var err error
	switch os.Args[1] {
	case "receive":
		err = runReceive(&g)
	case "drain":
		err = runDrain(&g)
	case "devices":
		err = runDevices(&g)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sigrecv-cli <receive|drain|devices> [flags]")
}

func openClient(g *globalFlags) (*sigrecv.Client, error) {
	return sigrecv.Open(g.clientOpts()...)
}

func runReceive(g *globalFlags) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := openClient(g)
	if err != nil {
		return err
	}
	defer c.Close()

	c.On(sigrecv.EventMessage, func(e sigrecv.Event) {
		msg := e.Payload.(*sigrecv.MessageEvent)
		fmt.Printf("[%d] %s.%d: %s\n", msg.Timestamp, msg.Source, msg.SourceDevice, msg.Message.Body)
	})
	c.On(sigrecv.EventError, func(e sigrecv.Event) {
		fmt.Fprintf(os.Stderr, "event error: %v\n", e.Payload.(*sigrecv.ErrorEvent).Err)
	})

	fmt.Println("Listening for messages... (Ctrl+C to stop)")
	return c.Run(ctx)
}

func runDrain(g *globalFlags) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := openClient(g)
	if err != nil {
		return err
	}
	defer c.Close()

	c.On(sigrecv.EventMessage, func(e sigrecv.Event) {
		msg := e.Payload.(*sigrecv.MessageEvent)
		fmt.Printf("[%d] %s.%d: %s\n", msg.Timestamp, msg.Source, msg.SourceDevice, msg.Message.Body)
	})

	return c.Drain(ctx)
}

func runDevices(g *globalFlags) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := openClient(g)
	if err != nil {
		return err
	}
	defer c.Close()

	devices, err := c.Devices(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Registered devices (%d):\n", len(devices))
	for _, d := range devices {
		created := time.UnixMilli(d.Created).Format("2006-01-02 15:04")
		lastSeen := time.UnixMilli(d.LastSeen).Format("2006-01-02 15:04")
		fmt.Printf("  Device %d: created=%s lastSeen=%s name=%q\n", d.ID, created, lastSeen, d.Name)
	}
	return nil
}
