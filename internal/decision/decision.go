// Package decision implements the §4.6 Decision Interface port: the
// seam between COMPASS's ranked hypotheses and whatever decides which
// one to validate next (a human operator, by default).
package decision

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/logging"
	"github.com/compass-investigate/compass/internal/ranker"
	"github.com/compass-investigate/compass/internal/scientific"
)

var log = logging.GetLogger("decision")

// Decision is the outcome of a Decide call.
type Decision struct {
	Hypothesis *scientific.Hypothesis
	Reasoning  string
	Timestamp  time.Time
}

// Interface is the §6 Decision Interface port.
type Interface interface {
	Decide(ctx context.Context, ranked []ranker.Ranked, inv *investigation.Investigation) (Decision, error)
}

// Console is a blocking Interface implementation that prompts a human
// operator over a terminal. It reads from In and writes prompts to Out,
// both overridable for testing; the zero value uses os.Stdin/os.Stdout.
type Console struct {
	In  io.Reader
	Out io.Writer
}

// NewConsole returns a Console wired to the process's stdin/stdout.
func NewConsole() *Console {
	return &Console{In: os.Stdin, Out: os.Stdout}
}

type consoleResult struct {
	decision Decision
	err      error
}

// Decide rejects an empty ranked list outright (there is nothing to
// decide between), then blocks for operator input on a background
// goroutine so ctx cancellation is honored even mid-prompt. The
// returned Decision carries the chosen *scientific.Hypothesis by
// identity, never a copy, so the caller's later mutations (evidence,
// disproof attempts) are visible through it.
func (c *Console) Decide(ctx context.Context, ranked []ranker.Ranked, inv *investigation.Investigation) (Decision, error) {
	if len(ranked) == 0 {
		return Decision{}, cerrors.New(cerrors.KindValidation, "decision: cannot decide among an empty ranked hypothesis list")
	}

	in := c.In
	if in == nil {
		in = os.Stdin
	}
	out := c.Out
	if out == nil {
		out = os.Stdout
	}

	resultCh := make(chan consoleResult, 1)
	go func() {
		resultCh <- c.promptOnce(ranked, inv, in, out)
	}()

	select {
	case <-ctx.Done():
		return Decision{}, cerrors.Wrap(cerrors.KindCancellation, ctx.Err(), "decision: cancelled while awaiting operator input")
	case r := <-resultCh:
		return r.decision, r.err
	}
}

func (c *Console) promptOnce(ranked []ranker.Ranked, inv *investigation.Investigation, in io.Reader, out io.Writer) consoleResult {
	fmt.Fprintf(out, "Investigation %s: choose a hypothesis to validate next\n", inv.ID)
	for _, r := range ranked {
		fmt.Fprintf(out, "  [%d] (confidence %.2f) %s\n", r.Rank, r.Hypothesis.CurrentConfidence, r.Hypothesis.Statement)
	}
	fmt.Fprint(out, "Enter number: ")

	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return consoleResult{err: cerrors.Wrap(cerrors.KindTransport, err, "decision: failed reading operator input")}
	}
	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || choice < 1 || choice > len(ranked) {
		return consoleResult{err: cerrors.New(cerrors.KindValidation, fmt.Sprintf("decision: %q is not a valid choice in [1,%d]", strings.TrimSpace(line), len(ranked)))}
	}

	fmt.Fprint(out, "Reasoning (optional): ")
	reasoning, _ := reader.ReadString('\n')
	reasoning = strings.TrimSpace(reasoning)
	if reasoning == "" {
		log.WarnWithFields("operator decision recorded without reasoning",
			logging.Field("investigation_id", inv.ID), logging.Field("hypothesis_id", ranked[choice-1].Hypothesis.ID))
	}

	return consoleResult{decision: Decision{
		Hypothesis: ranked[choice-1].Hypothesis,
		Reasoning:  reasoning,
		Timestamp:  time.Now().UTC(),
	}}
}
