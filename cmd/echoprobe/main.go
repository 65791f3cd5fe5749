package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xReLogic/restecho/internal/echo"
	"github.com/0xReLogic/restecho/internal/probe"
	"github.com/0xReLogic/restecho/internal/restclient"
	tlsutils "github.com/0xReLogic/restecho/internal/tls"
)

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:5000", "echo server base URL")
	path := flag.String("path", echo.Route, "echo route")
	count := flag.Int("n", 1, "number of requests")
	concurrency := flag.Int("c", 1, "concurrent workers")
	timeout := flag.Duration("timeout", restclient.DefaultTimeout, "per-request timeout")
	certDir := flag.String("cert-dir", "", "certificate directory for mutual TLS (https only)")
	flag.Parse()

	opts := []restclient.Option{restclient.WithTimeout(*timeout)}
	if *certDir != "" {
		certs, err := tlsutils.NewCertManager(*certDir)
		if err != nil {
			log.Fatalf("Failed to load certificates: %v", err)
		}
		opts = append(opts, restclient.WithTLSConfig(certs.ClientTLSConfig()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := restclient.New(*baseURL, opts...)
	start := time.Now()
	res := probe.Run(ctx, client, probe.Options{Path: *path, Count: *count, Concurrency: *concurrency})

	fmt.Printf("%s elapsed=%s\n", res.Summary(), time.Since(start).Round(time.Millisecond))
	for i, err := range res.Failures {
		if i == 5 {
			fmt.Printf("... %d more failures\n", len(res.Failures)-i)
			break
		}
		fmt.Printf("failure: %v\n", err)
	}
	if !res.OK() {
		os.Exit(1)
	}
	fmt.Println("Probe OK")
}
