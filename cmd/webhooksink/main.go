// Command webhooksink is a development receiver for the webhook consumer: it logs every delivery
// and answers with FAIL_STATUS (204 by default) so retries and dead-lettering can be observed.
package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mickamy/txqueue/webhook"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	addr := ":8081"
	if v := os.Getenv("SINK_ADDR"); v != "" {
		addr = v
	}
	status := http.StatusNoContent
	if v := os.Getenv("FAIL_STATUS"); v != "" {
		if status, err = strconv.Atoi(v); err != nil {
			logger.Fatal("invalid FAIL_STATUS", zap.String("value", v))
		}
	}

	srv := &http.Server{Addr: addr, Handler: handler(logger, status), ReadHeaderTimeout: 5 * time.Second}
	logger.Info("webhook sink listening", zap.String("addr", addr), zap.Int("status", status))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("webhook sink failed", zap.Error(err))
	}
}

func handler(logger *zap.Logger, status int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		defer func(Body io.ReadCloser) { _ = Body.Close() }(r.Body)
		var payload json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Info("webhook received",
			zap.String("element_id", r.Header.Get(webhook.HeaderElementID)),
			zap.String("dispatch_count", r.Header.Get(webhook.HeaderDispatchCount)),
			zap.Bool("dead_letter", r.Header.Get(webhook.HeaderDeadLetter) == "true"),
			zap.ByteString("payload", payload))
		w.WriteHeader(status)
	})
	return mux
}
