package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// runContextCommand shows or clears the tenant's shared context document.
func runContextCommand(ctx context.Context, company string, quiet bool, args []string) int {
	if len(args) != 1 || (args[0] != "show" && args[0] != "clear") {
		fmt.Fprintln(os.Stderr, "usage: agentcore [-company <id>] context show|clear")
		return 2
	}

	a, err := openApp(ctx, company, quiet)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close(context.Background())

	tenantID := a.tenantID()
	switch args[0] {
	case "show":
		doc, err := a.contexts.Read(ctx, tenantID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read context for company %s: %v\n", tenantID, err)
			return 1
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode context: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
	case "clear":
		if err := a.contexts.Clear(ctx, tenantID); err != nil {
			fmt.Fprintf(os.Stderr, "clear context for company %s: %v\n", tenantID, err)
			return 1
		}
		fmt.Printf("context for company %s cleared\n", tenantID)
	}
	return 0
}
