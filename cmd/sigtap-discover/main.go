// Command sigtap-discover browses DNS-SD for capture-capable
// instruments and prints each one as it appears or disappears, until
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/w1sig/sigtap/internal/discovery"
)

func main() {
	timeout := pflag.DurationP("timeout", "t", 0, "Stop browsing after this long (0 = run until interrupted).")
	help := pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: sigtap-discover [-t TIMEOUT]")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	fmt.Printf("browsing %s, ctrl-C to stop\n", discovery.ServiceType)
	err := discovery.Browse(ctx,
		func(inst discovery.Instrument) {
			fmt.Printf("+ %-20s %s:%d %v\n", inst.Name, inst.Host, inst.Port, inst.IPs)
		},
		func(inst discovery.Instrument) {
			fmt.Printf("- %-20s\n", inst.Name)
		},
	)
	if err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "sigtap-discover:", err)
		os.Exit(1)
	}
}
