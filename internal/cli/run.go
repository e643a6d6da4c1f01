package cli

import (
	"context"
	"fmt"
	"io"
)

// Run parses args (without argv[0]), resolves, and prints any failure to
// stderr. Logs go to stderr as well.
func Run(ctx context.Context, args []string, stderr io.Writer) (CLIResult, error) {
	if stderr == nil {
		stderr = io.Discard
	}
	inv, err := ParseInvocation(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	res, err := ExecuteWithEnv(ctx, inv, Env{Stderr: stderr})
	if err != nil {
		fmt.Fprintln(stderr, err)
	}
	return res, err
}
