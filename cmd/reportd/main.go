// Command reportd serves an existing reports directory without running an
// analysis.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"perflens/internal/report"
	"perflens/internal/viewer"
)

func main() {
	dir := flag.String("dir", "reports", "reports directory")
	port := flag.Int("port", 8080, "listen port")
	flag.Parse()
	_ = godotenv.Load()

	if info, err := os.Stat(*dir); err != nil || !info.IsDir() {
		log.Fatalf("reports directory %s does not exist; run perflens first", *dir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := viewer.New(report.NewStore(*dir)).Serve(ctx, *port); err != nil {
		log.Fatal(err)
	}
}
