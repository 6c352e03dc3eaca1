// Command sms-sink is a local stand-in for an SMS provider webhook. It
// accepts the POSTs the notification service sends, prints them, and can be
// told to fail a fraction of requests to exercise the failure path.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
)

type message struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func main() {
	var (
		addr     = flag.String("addr", getenv("ADDR", ":9925"), "listen address")
		token    = flag.String("token", getenv("SMS_WEBHOOK_TOKEN", ""), "expected bearer token (empty disables the check)")
		failRate = flag.Int("fail-rate", 0, "percentage of requests to reject with 502")
	)
	flag.Parse()

	if *failRate < 0 || *failRate > 100 {
		fatal("fail-rate must be between 0 and 100")
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if *token != "" && r.Header.Get("Authorization") != "Bearer "+*token {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}

		var msg message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}

		if *failRate > 0 && rand.Intn(100) < *failRate {
			fmt.Printf("REJECTED to=%s body=%q\n", msg.To, msg.Body)
			http.Error(w, "simulated provider outage", http.StatusBadGateway)
			return
		}

		fmt.Printf("SMS to=%s body=%q\n", msg.To, msg.Body)
		w.WriteHeader(http.StatusAccepted)
	})

	fmt.Printf("sms-sink listening on %s\n", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		fatal(err.Error())
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
