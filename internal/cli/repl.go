package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isUnlocked() bool
	maybeAutoLock()
	Enroll(ctx context.Context) error
	Unlock(ctx context.Context) error
	AddLogin(ctx context.Context) error
	AddNote(ctx context.Context) error
	AddCard(ctx context.Context) error
	AddTOTP(ctx context.Context) error
	List(ctx context.Context) error
	Show(ctx context.Context) error
	Delete(ctx context.Context) error
	DeleteTag(ctx context.Context) error
	Rotate(ctx context.Context) error
	Lock(ctx context.Context) error
}

// runREPL reads a line from the provided scanner, parses the first token as
// the command, and dispatches to methods on 'a'. Unknown commands are
// reported back to the user. Every non-blank line first passes through the
// idle auto-lock check. The loop exits on scanner EOF or when the user
// types "exit" or "quit".
//
// Errors returned by command handlers are ignored here; handlers print their
// own errors. This keeps the loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("vg> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		a.maybeAutoLock()

		switch cmd {
		case "help":
			if a.isUnlocked() {
				printlnFn("Available commands: list, show, addlogin, addnote, addcard, addtotp, delete, deletetag, rotate, lock, exit")
			} else {
				printlnFn("Available commands: enroll, unlock, exit")
			}

		case "enroll":
			_ = a.Enroll(ctx)

		case "unlock":
			_ = a.Unlock(ctx)

		case "addlogin":
			_ = a.AddLogin(ctx)

		case "addnote":
			_ = a.AddNote(ctx)

		case "addcard":
			_ = a.AddCard(ctx)

		case "addtotp":
			_ = a.AddTOTP(ctx)

		case "list", "l":
			_ = a.List(ctx)

		case "show":
			_ = a.Show(ctx)

		case "delete":
			_ = a.Delete(ctx)

		case "deletetag":
			_ = a.DeleteTag(ctx)

		case "rotate":
			_ = a.Rotate(ctx)

		case "lock":
			_ = a.Lock(ctx)

		case "exit", "quit":
			return

		default:
			printlnFn(fmt.Sprintf("Unknown command: %s", cmd))
		}
	}
}
