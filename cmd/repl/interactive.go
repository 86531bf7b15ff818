package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/agent"
	"github.com/ChamsBouzaiene/rowboat/internal/scheduler"
)

// runInteractive drives a plain terminal loop: read a line, stream the
// answer, prompt inline for tool confirmations.
func runInteractive(ctx context.Context, env *runtimeEnv) {
	log.Printf("rowboat ready (provider: %s, model: %s, workdir: %s)",
		env.prov.Name(), env.prov.Model(), env.workDir)
	log.Printf("connect to a database first, e.g.: connect to sqlite ./app.db")

	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !stdin.Scan() {
			break
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		if line == "/stats" {
			printStats(env)
			continue
		}
		if line == "/clear" {
			env.client.ClearHistory()
			fmt.Println("history cleared")
			continue
		}

		events, err := env.client.SendMessageStream(ctx, line)
		if err != nil {
			log.Printf("error: %v", err)
			continue
		}
		for ev := range events {
			handleInteractiveEvent(env, stdin, ev)
		}
		fmt.Println()
	}
}

func handleInteractiveEvent(env *runtimeEnv, stdin *bufio.Scanner, ev agent.Event) {
	switch ev.Kind {
	case agent.EventContent:
		fmt.Print(ev.Text)
	case agent.EventToolCallRequest:
		for _, call := range ev.Calls {
			fmt.Printf("\n[tool] %s (%s)\n", call.Name, call.Status)
		}
	case agent.EventAwaitingApproval:
		for _, call := range ev.Calls {
			promptConfirmation(env, stdin, call)
		}
	case agent.EventToolOutput:
		fmt.Printf("  | %s\n", ev.Text)
	case agent.EventToolCallResponse:
		for _, call := range ev.Calls {
			if call.Result != nil && call.Result.ReturnDisplay != "" {
				fmt.Printf("\n%s\n", call.Result.ReturnDisplay)
			}
			if call.Err != "" {
				fmt.Printf("\n[tool error] %s: %s\n", call.Name, call.Err)
			}
		}
	case agent.EventCompressed:
		fmt.Printf("\n[context compressed: %d -> %d tokens]\n",
			ev.Compression.TokensBefore, ev.Compression.TokensAfter)
	case agent.EventCancelled:
		fmt.Println("\n[cancelled]")
	case agent.EventMaxTurnsReached:
		fmt.Println("\n[session turn limit reached]")
	case agent.EventError:
		fmt.Printf("\n[error] %s\n", ev.Err)
	}
}

func promptConfirmation(env *runtimeEnv, stdin *bufio.Scanner, call scheduler.Call) {
	fmt.Printf("\n%s wants to run", call.Name)
	if call.Confirmation != nil {
		fmt.Printf(" [%s]", call.Confirmation.RiskLevel)
		if call.Confirmation.Message != "" {
			fmt.Printf("\n  %s", call.Confirmation.Message)
		}
	}
	fmt.Print("\nallow? [y]es / [a]lways / [n]o: ")
	if !stdin.Scan() {
		env.client.Confirm(call.CallID, scheduler.Decision{Outcome: scheduler.OutcomeCancel})
		return
	}
	decision := scheduler.Decision{Outcome: scheduler.OutcomeCancel}
	switch strings.ToLower(strings.TrimSpace(stdin.Text())) {
	case "y", "yes":
		decision.Outcome = scheduler.OutcomeProceedOnce
	case "a", "always":
		decision.Outcome = scheduler.OutcomeProceedAlways
	}
	if err := env.client.Confirm(call.CallID, decision); err != nil {
		log.Printf("confirmation failed: %v", err)
	}
}

func printStats(env *runtimeEnv) {
	summary := env.client.Stats()
	fmt.Printf("calls: %d  prompt: %d  completion: %d  total: %d\n",
		summary.Totals.Calls, summary.Totals.PromptTokens,
		summary.Totals.CompletionTokens, summary.Totals.TotalTokens)
	for _, model := range summary.Models {
		t := summary.ByModel[model]
		fmt.Printf("  %s: %d calls, %d tokens\n", model, t.Calls, t.TotalTokens)
	}
}
