package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cli carries the output streams. p formats counts with digit grouping.
type cli struct {
	out    io.Writer
	errOut io.Writer
	p      *message.Printer
}

type command struct {
	name  string
	usage string
	run   func(c *cli, args []string) int
}

var commands = []command{
	{"record", "record -type <t> -message <m> [-severity s]   Record an error event", (*cli).runRecord},
	{"summary", "summary [-days n]                               Error summary for the last n days", (*cli).runSummary},
	{"trends", "trends [-days n]                                Daily error totals and per-type counts", (*cli).runTrends},
	{"critical", "critical [-limit n]                             Unresolved critical errors", (*cli).runCritical},
	{"resolve", "resolve <id>                                    Mark an error event resolved", (*cli).runResolve},
	{"daily", "daily [-days n]                                 Daily rollup rows", (*cli).runDaily},
	{"purge", "purge [-days n] [-samples]                      Delete resolved errors older than n days", (*cli).runPurge},
	{"perf", "perf [-hours n]                                 Performance report and alerts", (*cli).runPerf},
	{"cycle", "cycle                                           Run one monitoring cycle now", (*cli).runCycle},
	{"validate-rules", "validate-rules -file <path>                     Validate an alert rules file", (*cli).runValidateRules},
	{"migrate", "migrate                                         Apply the storage schema", (*cli).runMigrate},
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{out: stdout, errOut: stderr, p: message.NewPrinter(language.English)}

	if len(args) < 1 {
		c.printUsage()
		return 1
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(c, args[1:])
		}
	}
	c.printUsage()
	return 1
}

func (c *cli) printUsage() {
	fmt.Fprintln(c.out, "Usage: telemetry <command> [options]")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(c.out, "  %s\n", cmd.usage)
	}
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Every command except validate-rules accepts -config <path>.")
}

// newFlagSet returns a flag set that reports errors instead of exiting
func (c *cli) newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	configPath := fs.String("config", "", "path to config file")
	return fs, configPath
}

func (c *cli) fail(format string, args ...interface{}) int {
	fmt.Fprintf(c.errOut, "Error: "+format+"\n", args...)
	return 1
}
