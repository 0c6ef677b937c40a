package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"ridechat/pkg/archive"
)

// inspect dumps an archived conversation transcript without a running
// session. Useful for support and for verifying retention runs.
func main() {
	var (
		path  string
		conv  string
		limit int
		raw   bool
	)
	flag.StringVar(&path, "path", "./archive", "archive directory path")
	flag.StringVar(&conv, "conversation", "", "conversation id to dump")
	flag.IntVar(&limit, "limit", 0, "print only the newest N messages (0 = all)")
	flag.BoolVar(&raw, "json", false, "print raw JSON records")
	flag.Parse()
	if conv == "" {
		fmt.Fprintln(os.Stderr, "--conversation required")
		os.Exit(2)
	}

	arc, err := archive.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open archive: %v\n", err)
		os.Exit(1)
	}
	defer arc.Close()

	msgs, err := arc.List(conv, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list messages: %v\n", err)
		os.Exit(1)
	}
	for _, m := range msgs {
		if raw {
			b, _ := json.Marshal(m)
			fmt.Println(string(b))
			continue
		}
		ts := time.Unix(0, m.TS).UTC().Format(time.RFC3339)
		body := m.Body
		if m.Deleted {
			body = "(deleted)"
		}
		fmt.Printf("%s  %-12s  %s\n", ts, m.Sender, body)
	}
	fmt.Fprintf(os.Stderr, "%d messages, archive size %d bytes\n", len(msgs), arc.SizeBytes())
}
