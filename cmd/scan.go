package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"golang.org/x/term"

	"github.com/tokenlens/tokenlens/internal/fault"
	"github.com/tokenlens/tokenlens/internal/orchestrator"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	quality := fs.String("quality", "", "fast, standard, or premium")
	jsonOut := fs.Bool("json", false, "print the token set as DTCG JSON")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	url := fs.Arg(0)
	if url == "" {
		fmt.Fprintln(os.Stderr, "usage: tokenlens scan URL [--quality fast|standard|premium] [--json]")
		os.Exit(fault.ExitBadArgument)
	}

	cfg, _, err := loadConfig(*configPath, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokenlens: %v\n", err)
		os.Exit(fault.ExitBadArgument)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokenlens: %v\n", err)
		os.Exit(fault.ExitOperational)
	}
	defer app.close()
	app.start()

	ticket, err := app.orch.Submit(ctx, orchestrator.SubmitRequest{URL: url, Quality: *quality})
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokenlens: %v\n", err)
		os.Exit(fault.ExitCode(err))
	}

	if ticket.Cached {
		fmt.Fprintf(os.Stderr, "serving cached result for %s\n", ticket.Domain)
		printResult(ctx, app, ticket.Domain, *jsonOut)
		return
	}

	// Ctrl-C cancels the scan cooperatively instead of killing the process
	// mid-write.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_ = app.orch.Cancel(ticket.ScanID)
	}()

	failed := streamProgress(app, ticket.ScanID)
	signal.Stop(sigChan)

	if failed {
		scan, err := app.db.GetScan(ctx, ticket.ScanID)
		if err != nil {
			os.Exit(fault.ExitOperational)
		}
		fmt.Fprintf(os.Stderr, "scan %s: %s\n", scan.Status, scan.ErrorMessage)
		os.Exit(fault.ExitCode(fault.New(fault.Kind(scan.ErrorKind), "scan", "%s", scan.ErrorMessage)))
	}

	printResult(ctx, app, ticket.Domain, *jsonOut)
}

// streamProgress renders bus events until the scan ends. Returns true
// when the terminal event is a failure.
func streamProgress(app *app, scanID string) bool {
	interactive := term.IsTerminal(int(os.Stderr.Fd()))

	replay, live, cancelSub, ok := app.orch.Bus().Subscribe(scanID, 0)
	if !ok {
		return false
	}
	defer cancelSub()

	lastStep := 0
	failed := false
	render := func(ev orchestrator.Event) {
		lastStep = ev.Step
		if ev.Type == orchestrator.EventFailed {
			failed = true
		}
		if interactive {
			line := fmt.Sprintf("[%s] %s", ev.Phase, ev.Message)
			if len(line) > 100 {
				line = line[:100]
			}
			fmt.Fprintf(os.Stderr, "\r%-100s", line)
			if ev.Terminal() {
				fmt.Fprintln(os.Stderr)
			}
		} else {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Phase, ev.Message)
		}
		for _, detail := range ev.Details {
			fmt.Fprintf(os.Stderr, "%swarning: %s\n", indentFor(interactive), detail)
		}
	}

	for _, ev := range replay {
		render(ev)
		if ev.Terminal() {
			return failed
		}
	}
	for ev := range live {
		render(ev)
		if ev.Terminal() {
			return failed
		}
	}
	// Channel closed on terminal; pick the remainder up from history.
	for _, ev := range app.orch.Bus().Events(scanID, lastStep) {
		render(ev)
	}
	return failed
}

func indentFor(interactive bool) string {
	if interactive {
		return "\n  "
	}
	return "  "
}

func printResult(ctx context.Context, app *app, domain string, jsonOut bool) {
	site, err := app.db.GetSiteByDomain(ctx, domain)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokenlens: %v\n", err)
		os.Exit(fault.ExitOperational)
	}
	set, err := app.db.GetLatestTokenSet(ctx, site.ID)
	if err != nil || set == nil {
		fmt.Fprintln(os.Stderr, "tokenlens: no token set for "+domain)
		os.Exit(fault.ExitOperational)
	}

	if jsonOut {
		fmt.Println(set.TokensJSON)
		return
	}

	parsed, err := tokens.Parse(set.TokensJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokenlens: %v\n", err)
		os.Exit(fault.ExitOperational)
	}

	perCategory := map[string]int{}
	for _, tok := range parsed.Tokens {
		perCategory[tok.Category()]++
	}

	fmt.Printf("%s version %d: %d tokens, consensus %.2f\n",
		site.Domain, set.VersionNumber, parsed.Len(), set.ConsensusScore)
	for _, category := range sortedKeys(perCategory) {
		fmt.Printf("  %-12s %d\n", category, perCategory[category])
	}
	if ver, err := app.db.GetVersionForSet(ctx, set.ID); err == nil && ver.PreviousVersionID != "" {
		fmt.Printf("  diff: +%d -%d ~%d\n", ver.DiffAdded, ver.DiffRemoved, ver.DiffModified)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
