package analysis

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const engineReadyTimeout = 4 * time.Second

// Engine is a single UCI engine subprocess used for best-move
// suggestions. One search runs at a time.
type Engine struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	search sync.Mutex
}

func NewEngine(ctx context.Context, binaryPath string) (*Engine, error) {
	if strings.TrimSpace(binaryPath) == "" {
		return nil, fmt.Errorf("engine path required")
	}
	cmd := exec.CommandContext(ctx, binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	e := &Engine{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdoutPipe)}
	if err := e.initialize(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// BestMove searches the given position for moveTime and returns the
// engine's best move in UCI form.
func (e *Engine) BestMove(ctx context.Context, fen string, moves []string, moveTime time.Duration) (string, error) {
	e.search.Lock()
	defer e.search.Unlock()

	if err := e.send(buildPositionCommand(fen, moves)); err != nil {
		return "", fmt.Errorf("send position: %w", err)
	}
	ms := int(moveTime.Milliseconds())
	if ms <= 0 {
		ms = 1000
	}
	if err := e.send("go movetime " + strconv.Itoa(ms) + "\n"); err != nil {
		return "", fmt.Errorf("send go: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, moveTime+3*time.Second)
	defer cancel()
	for {
		line, err := e.readLine(searchCtx)
		if err != nil {
			return "", fmt.Errorf("read line: %w", err)
		}
		if strings.HasPrefix(line, "bestmove") {
			parts := strings.Fields(line)
			if len(parts) < 2 || parts[1] == "(none)" {
				return "", fmt.Errorf("no best move for position")
			}
			return parts[1], nil
		}
	}
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stdin != nil {
		e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	if e.cmd != nil {
		return e.cmd.Wait()
	}
	return nil
}

func (e *Engine) initialize(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, engineReadyTimeout)
	defer cancel()

	if err := e.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := e.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	if err := e.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := e.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func (e *Engine) send(msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := io.WriteString(e.stdin, msg)
	return err
}

func (e *Engine) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := e.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (e *Engine) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := e.stdout.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}
