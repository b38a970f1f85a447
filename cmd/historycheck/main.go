package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/cheese-session/internal/history"
	"github.com/park285/cheese-session/internal/store"
)

func main() {
	all := flag.Bool("all", false, "print every fetched game instead of the preview")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	userID := flag.Arg(0)
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if userID == "" {
		log.Fatal("usage: historycheck [-all] <user-id>")
	}

	repo, err := store.NewRepository(dbURL)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := history.NewAggregator(repo, repo).Fetch(ctx, userID)
	if err != nil {
		log.Printf("history error: %v", err)
		return
	}
	v.SetExpanded(*all)

	s := v.Summary()
	fmt.Printf("history for %s: %d games (won=%d lost=%d draw=%d)\n", userID, v.Len(), s.Won, s.Lost, s.Draw)
	if v.Len() == 0 {
		fmt.Println(v.EmptyText())
		return
	}
	for _, e := range v.Visible() {
		fmt.Printf("%-5s %-12s vs %-20s %-5s %4s  %s\n", e.Outcome, e.ResultLabel, e.OpponentName, e.Color, e.TimeControlLabel, e.CompletedLabel)
	}
	if n := v.Remaining(); n > 0 && !*all {
		fmt.Printf("... %d more (use -all)\n", n)
	}
}
