package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Pick up API keys from a local .env when present.
	_ = godotenv.Load()

	ctx := context.Background()

	fs := flag.NewFlagSet("rowboat", flag.ExitOnError)
	workDir := fs.String("workdir", "", "Working directory for file and export tools (default: current directory)")
	providerFlag := fs.String("provider", "", "Model provider: gemini, anthropic, or openai")
	modelFlag := fs.String("model", "", "Model name override")
	stdioMode := fs.Bool("stdio", false, "Serve the agent over the NDJSON stdio protocol")
	resumeID := fs.String("resume", "", "Resume a saved session by id")

	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	if *stdioMode {
		// Keep stdout clean for the protocol.
		log.SetOutput(os.Stderr)
	}

	env, err := prepareRuntimeEnv(ctx, *workDir, *providerFlag, *modelFlag)
	if err != nil {
		if *stdioMode {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(1)
		}
		log.Fatalf("startup failed: %v", err)
	}
	defer env.Close()

	if *resumeID != "" {
		sess, err := env.store.Load(*resumeID, env.workDir)
		if err != nil {
			log.Fatalf("resume session %s: %v", *resumeID, err)
		}
		env.client.Chat().Replace(sess.History)
		log.Printf("resumed session %q (%d entries)", sess.Title, len(sess.History))
	}

	if *stdioMode {
		if err := runStdIO(ctx, env); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: stdio bridge failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	runInteractive(ctx, env)
}
