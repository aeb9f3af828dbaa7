// Session Dump Tool
//
// Prints the transcript and routing audit trail for one session from
// the durable store.
//
// Usage:
//
//	go run ./cmd/sessiondump -path ./data/sessions -session ticket_123
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/store"
)

func main() {
	path := flag.String("path", "./data/sessions", "Badger data directory")
	sessionID := flag.String("session", "", "session id to dump")
	flag.Parse()

	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "usage: sessiondump -path <dir> -session <id>")
		os.Exit(2)
	}

	st, err := store.NewBadgerStore(store.BadgerConfig{Path: *path}, commbus.NopLogger{})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	sess, err := st.Load(context.Background(), *sessionID)
	if err != nil {
		log.Fatalf("Failed to load session: %v", err)
	}

	fmt.Printf("Session %s\n", sess.SessionID)
	fmt.Printf("  user:       %s\n", sess.ExternalUserID)
	fmt.Printf("  status:     %s\n", sess.Status)
	fmt.Printf("  issue_type: %s\n", sess.IssueType)
	fmt.Printf("  urgency:    %s\n", sess.Urgency)
	fmt.Printf("  sentiment:  %s\n", sess.Sentiment)
	if sess.RetrievalConfidence != nil {
		fmt.Printf("  confidence: %.2f (%d articles)\n", *sess.RetrievalConfidence, sess.ArticlesFound)
	}
	fmt.Printf("  created:    %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
	if sess.ClosedAt != nil {
		fmt.Printf("  closed:     %s\n", sess.ClosedAt.Format("2006-01-02 15:04:05"))
	}

	fmt.Printf("\nConversation (%d messages):\n", len(sess.Conversation))
	for _, msg := range sess.Conversation {
		fmt.Printf("  [%s] %-9s %s\n", msg.CreatedAt.Format("15:04:05"), msg.Role+":", msg.Content)
	}

	fmt.Printf("\nAudit trail (%d hops):\n", len(sess.Audit))
	for _, rec := range sess.Audit {
		line := fmt.Sprintf("  #%d %-10s %-7s signal=%s decision=%s duration=%dms",
			rec.Hop, rec.Stage, rec.Status, rec.Signal, rec.Decision, rec.DurationMS)
		if rec.Error != nil {
			line += " error=" + *rec.Error
		}
		fmt.Println(line)
	}
}
