package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	rtmerrors "rtm/internal/errors"
)

func main() {
	// An interrupt cancels the running command; an open commit rolls back.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printSuggestedFixes(err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status: 2 for a rejected
// commit, 3 for storage and internal failures, 1 otherwise.
func exitCode(err error) int {
	var re *rtmerrors.RtmError
	if !errors.As(err, &re) {
		return 1
	}
	switch re.Code {
	case rtmerrors.CommitRejected:
		return 2
	case rtmerrors.StorageError, rtmerrors.InternalError:
		return 3
	}
	return 1
}

func printSuggestedFixes(err error) {
	var re *rtmerrors.RtmError
	if !errors.As(err, &re) {
		return
	}
	for _, fix := range rtmerrors.GetSuggestedFixes(re.Code) {
		fmt.Fprintf(os.Stderr, "  hint: %s (%s)\n", fix.Description, fix.Command)
	}
}
