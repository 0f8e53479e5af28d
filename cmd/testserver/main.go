// testserver serves a simulated report API for local runs and E2E testing.
// Usage: go run ./cmd/testserver [-fail-at N] [-fail-message MSG] [-status-code CODE]
package main

import (
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/seantiz/reportwatch/internal/model"
	"github.com/seantiz/reportwatch/internal/simulator"
)

func main() {
	var (
		failAt      = flag.Int("fail-at", -1, "step index at which every job fails (-1 never)")
		failMessage = flag.String("fail-message", "", "error message reported on failure")
		statusCode  = flag.Int("status-code", 0, "answer status requests with this HTTP code")
		steps       = flag.String("steps", "", "comma-separated step list for both report kinds")
	)
	flag.Parse()

	addr := ":8000"
	if v := os.Getenv("REPORTWATCH_SIM_ADDR"); v != "" {
		addr = v
	}

	var stepList []string
	for s := range strings.SplitSeq(*steps, ",") {
		if s = strings.TrimSpace(s); s != "" {
			stepList = append(stepList, s)
		}
	}

	script := simulator.Script{
		Steps:       stepList,
		FailAt:      *failAt,
		FailMessage: *failMessage,
		StatusCode:  *statusCode,
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	sim := simulator.New(logger,
		simulator.WithScript(model.KindGovernance, script),
		simulator.WithScript(model.KindSEO, script),
	)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           sim.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("testserver: starting", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
