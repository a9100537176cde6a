// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Command ballotctl is the offline operator verification tool: it opens
// the same database ballotd writes to and checks the tamper-evident
// structures (audit hash chain, per-poll Merkle root, anchor status)
// without going through the HTTP surface. Modeled on the teacher's
// standalone cmd/checker analysis binary, generalized from one
// flag.Parse() report into subcommands since this tool checks three
// independent structures rather than one configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/civora/ballotcore/internal/aggregation"
	"github.com/civora/ballotcore/internal/audit"
	"github.com/civora/ballotcore/internal/merkle"
	"github.com/civora/ballotcore/internal/store"
	"github.com/civora/ballotcore/utils/formatting"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "verify-audit":
		runVerifyAudit(os.Args[2:])
	case "verify-root":
		runVerifyRoot(os.Args[2:])
	case "anchor-status":
		runAnchorStatus(os.Args[2:])
	case "security-events":
		runSecurityEvents(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "ballotctl: unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `ballotctl verifies the tamper-evident structures of a ballotcore database offline.

Usage:
  ballotctl verify-audit     [-db path]
  ballotctl verify-root      [-db path] -poll <pollId>
  ballotctl anchor-status    [-db path]
  ballotctl security-events  [-db path] -k <threshold>`)
}

func runVerifyAudit(args []string) {
	fs := flag.NewFlagSet("verify-audit", flag.ExitOnError)
	dbPath := fs.String("db", "ballotcore.db", "path to the ballotcore sqlite database")
	fs.Parse(args)

	ctx := context.Background()
	s, err := store.Open(ctx, *dbPath)
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer s.Close()

	chain := audit.New(s)
	if err := chain.Verify(ctx); err != nil {
		fmt.Printf("FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK: audit chain is intact")
}

func runVerifyRoot(args []string) {
	fs := flag.NewFlagSet("verify-root", flag.ExitOnError)
	dbPath := fs.String("db", "ballotcore.db", "path to the ballotcore sqlite database")
	pollID := fs.String("poll", "", "poll id to recompute the Merkle root for")
	fs.Parse(args)

	if *pollID == "" {
		fatalf("verify-root: -poll is required")
	}

	ctx := context.Background()
	s, err := store.Open(ctx, *dbPath)
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer s.Close()

	stored, err := s.GetPollRoot(ctx, *pollID)
	if err != nil {
		fatalf("read stored root: %v", err)
	}

	votes, err := s.ListVotes(ctx, *pollID)
	if err != nil {
		fatalf("list votes: %v", err)
	}
	leaves := make([]merkle.Leaf, 0, len(votes))
	for _, v := range votes {
		raw, err := formatting.Decode(formatting.HexNC, v.LeafHash)
		if err != nil || len(raw) != 32 {
			fatalf("decode stored leaf for vote %s: %v", v.ID, err)
		}
		var l merkle.Leaf
		copy(l[:], raw)
		leaves = append(leaves, l)
	}
	recomputed := merkle.Build(leaves)
	recomputedHex, err := formatting.Encode(formatting.HexNC, recomputed[:])
	if err != nil {
		fatalf("encode recomputed root: %v", err)
	}

	if recomputedHex != stored.CurrentRoot {
		fmt.Printf("FAIL: stored root %s does not match recomputed root %s over %d votes\n",
			stored.CurrentRoot, recomputedHex, len(votes))
		os.Exit(1)
	}
	fmt.Printf("OK: root %s matches %d votes\n", stored.CurrentRoot, len(votes))
}

func runAnchorStatus(args []string) {
	fs := flag.NewFlagSet("anchor-status", flag.ExitOnError)
	dbPath := fs.String("db", "ballotcore.db", "path to the ballotcore sqlite database")
	fs.Parse(args)

	ctx := context.Background()
	s, err := store.Open(ctx, *dbPath)
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer s.Close()

	pollIDs, err := s.ListActivePollIDs(ctx)
	if err != nil {
		fatalf("list active polls: %v", err)
	}
	if len(pollIDs) == 0 {
		fmt.Println("no active polls")
		return
	}

	for _, pollID := range pollIDs {
		root, err := s.GetPollRoot(ctx, pollID)
		if err != nil {
			fmt.Printf("%s: read root failed: %v\n", pollID, err)
			continue
		}
		last, err := s.LatestAnchor(ctx, pollID)
		switch {
		case err != nil && root.CurrentRoot == "":
			fmt.Printf("%s: no votes yet\n", pollID)
		case err != nil:
			fmt.Printf("%s: root %s, never anchored\n", pollID, root.CurrentRoot)
		case last.Root == root.CurrentRoot:
			fmt.Printf("%s: root %s, anchored at %s (tx %s)\n", pollID, root.CurrentRoot, last.SubmittedAt.Format("2006-01-02T15:04:05Z"), last.ExternalTxRef)
		default:
			fmt.Printf("%s: root %s, pending anchor (last anchored root %s at %s)\n",
				pollID, root.CurrentRoot, last.Root, last.SubmittedAt.Format("2006-01-02T15:04:05Z"))
		}
	}
}

// runSecurityEvents prints the k-anonymous audit-chain event-kind summary
// (the spec's security-event aggregation supplement) straight from the
// database; ballotd exposes no HTTP route for this summary.
func runSecurityEvents(args []string) {
	fs := flag.NewFlagSet("security-events", flag.ExitOnError)
	dbPath := fs.String("db", "ballotcore.db", "path to the ballotcore sqlite database")
	k := fs.Int("k", 30, "k-anonymity threshold below which an event count is suppressed")
	fs.Parse(args)

	ctx := context.Background()
	s, err := store.Open(ctx, *dbPath)
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer s.Close()

	chain := audit.New(s)
	agg := aggregation.New(s, chain)

	summary, err := agg.SecurityEvents(ctx, *k)
	if err != nil {
		fatalf("security-events: %v", err)
	}

	fmt.Printf("k-threshold: %d, suppressed: %d\n", summary.Metadata.KThreshold, summary.Metadata.SuppressedCells)
	for _, cell := range summary.Events {
		fmt.Printf("  %s: %v\n", cell.Key, cell.Count)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ballotctl: "+format+"\n", args...)
	os.Exit(1)
}
