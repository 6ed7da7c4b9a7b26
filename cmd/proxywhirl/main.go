// Command proxywhirl fetches URLs through a rotating proxy pool. It is a
// thin CLI over the library: point it at a config file, hand it URLs, read
// the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	proxywhirl "github.com/proxywhirl/proxywhirl"
	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/version"
	"github.com/proxywhirl/proxywhirl/pkg/format"
	"github.com/proxywhirl/proxywhirl/pkg/profiler"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "config file (defaults to ./proxywhirl.yaml)")
		strategy    = flag.String("strategy", "", "rotation strategy override")
		proxies     = flag.String("proxies", "", "comma-separated proxy URLs to seed the pool")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return 0
	}
	urls := flag.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: proxywhirl [flags] URL [URL...]")
		flag.PrintDefaults()
		return 2
	}

	opts := []proxywhirl.Option{}
	if *configPath != "" {
		opts = append(opts, proxywhirl.WithConfigFile(*configPath))
	} else {
		opts = append(opts, proxywhirl.WithConfigFromEnv())
	}
	if *strategy != "" {
		opts = append(opts, proxywhirl.WithStrategy(*strategy))
	}
	if *proxies != "" {
		opts = append(opts, proxywhirl.WithProxies(strings.Split(*proxies, ",")...))
	}

	// The profiler toggle lives outside the library; only the binary should
	// ever open a pprof listener.
	if cfg, err := loadConfig(*configPath); err == nil && cfg.Engineering.ProfilerEnabled {
		profiler.InitialiseProfiler(cfg.Engineering.ProfilerAddress)
	}

	client, err := proxywhirl.New(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "proxywhirl: %v\n", err)
		return 1
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	results, err := client.BatchGet(ctx, urls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "proxywhirl: %v\n", err)
		return 1
	}

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", result.URL, result.Err)
			continue
		}
		fmt.Printf("%d %s via %s in %s (%d bytes, %d attempts)\n",
			result.Response.StatusCode, result.URL, result.Response.ProxyURL,
			format.Latency(result.Response.Latency.Milliseconds()),
			len(result.Response.Body), result.Response.Attempts)
	}

	health := client.HealthReport()
	fmt.Printf("pool: %s\n", format.ProxiesUp(health.Eligible, health.Total))

	if failed > 0 {
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
