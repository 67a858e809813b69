package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/wyndmere/avatarsync/internal/vault"
	"golang.org/x/term"
)

func cmdSession(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: avatarsync session <show|set|clear>")
		os.Exit(1)
	}

	v := vault.New()

	switch args[0] {
	case "show":
		cred, err := v.Get()
		if err != nil {
			fmt.Println("No session credential stored")
			return
		}
		fmt.Printf("  Agent ID:     %s\n", cred.AgentID)
		fmt.Printf("  Session ID:   ****\n")
		fmt.Printf("  Circuit Code: ****\n")

	case "set":
		cred, err := promptCredential()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading credential: %v\n", err)
			os.Exit(1)
		}
		if err := v.Set(cred); err != nil {
			fmt.Fprintf(os.Stderr, "error storing credential: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Session credential stored")

	case "clear":
		if err := v.Delete(); err != nil {
			fmt.Fprintf(os.Stderr, "error clearing credential: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Session credential cleared")

	default:
		fmt.Fprintf(os.Stderr, "unknown session command: %s\n", args[0])
		os.Exit(1)
	}
}

// promptCredential reads the three credential fields from the terminal.
// The agent id is echoed; the session id and circuit code are read without
// echo since they authenticate the login session.
func promptCredential() (vault.SessionCredential, error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Agent ID (UUID): ")
	agentLine, err := reader.ReadString('\n')
	if err != nil {
		return vault.SessionCredential{}, err
	}
	agentID, err := uuid.Parse(strings.TrimSpace(agentLine))
	if err != nil {
		return vault.SessionCredential{}, fmt.Errorf("invalid agent id: %w", err)
	}

	fmt.Print("Session ID (UUID): ")
	sessionBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return vault.SessionCredential{}, err
	}
	sessionID, err := uuid.Parse(strings.TrimSpace(string(sessionBytes)))
	if err != nil {
		return vault.SessionCredential{}, fmt.Errorf("invalid session id: %w", err)
	}

	fmt.Print("Circuit Code: ")
	codeBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return vault.SessionCredential{}, err
	}
	code, err := strconv.ParseUint(strings.TrimSpace(string(codeBytes)), 10, 32)
	if err != nil {
		return vault.SessionCredential{}, fmt.Errorf("invalid circuit code: %w", err)
	}

	return vault.SessionCredential{
		AgentID:     agentID,
		SessionID:   sessionID,
		CircuitCode: uint32(code),
	}, nil
}
